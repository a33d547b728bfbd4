package recorder

import (
	"path/filepath"
	"testing"

	"polymarket-updown-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 录制后回放必须按写入顺序还原全部事件
func TestRecordAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks", "session.csv")

	r, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, r.RecordSpot("BTC", 65000.5, 1_700_000_000_000))
	require.NoError(t, r.RecordBook("tok-1", models.OrderbookSnapshot{
		BestBid: 0.54, BestAsk: 0.56, BidDepth: 1500, AskDepth: 400, Timestamp: 1_700_000_001_000,
	}))
	require.NoError(t, r.RecordSpot("ETH", 3200.25, 1_700_000_002_000))
	require.NoError(t, r.Close())

	var events []Event
	require.NoError(t, Replay(path, func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	require.Len(t, events, 3)

	assert.Equal(t, KindSpot, events[0].Kind)
	assert.Equal(t, "BTC", events[0].Key)
	assert.Equal(t, 65000.5, events[0].Price)
	assert.Equal(t, int64(1_700_000_000_000), events[0].Ts)

	assert.Equal(t, KindBook, events[1].Kind)
	assert.Equal(t, "tok-1", events[1].Key)
	snap := events[1].Snapshot()
	assert.Equal(t, 0.54, snap.BestBid)
	assert.Equal(t, 0.56, snap.BestAsk)
	assert.Equal(t, 1500.0, snap.BidDepth)
	assert.Equal(t, 400.0, snap.AskDepth)
	assert.Equal(t, int64(1_700_000_001_000), snap.Timestamp)

	assert.Equal(t, "ETH", events[2].Key)
}

func TestReplayStopsOnHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	r, err := NewRecorder(path)
	require.NoError(t, err)
	require.NoError(t, r.RecordSpot("BTC", 100, 1))
	require.NoError(t, r.RecordSpot("BTC", 101, 2))
	require.NoError(t, r.Close())

	count := 0
	err = Replay(path, func(ev Event) error {
		count++
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestReplayMissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "nope.csv"), func(Event) error { return nil })
	assert.Error(t, err)
}
