package feed

import (
	"testing"

	"polymarket-updown-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthBookSnapshot(t *testing.T) {
	b := newDepthBook()
	b.replace("buy", map[float64]float64{
		0.54: 100, 0.53: 200, 0.52: 300, 0.51: 400, 0.50: 500, 0.49: 9999,
	})
	b.replace("sell", map[float64]float64{0.56: 150, 0.57: 250})

	snap := b.snapshot(42)
	assert.Equal(t, int64(42), snap.Timestamp)
	assert.InDelta(t, 0.54, snap.BestBid, 1e-9)
	assert.InDelta(t, 0.56, snap.BestAsk, 1e-9)
	assert.InDelta(t, 1500, snap.BidDepth, 1e-9) // 仅前五档
	assert.InDelta(t, 400, snap.AskDepth, 1e-9)
}

func TestDepthBookApply(t *testing.T) {
	b := newDepthBook()
	b.apply("buy", 0.54, 100)
	b.apply("sell", 0.56, 150)

	snap := b.snapshot(0)
	assert.InDelta(t, 0.54, snap.BestBid, 1e-9)
	assert.InDelta(t, 0.56, snap.BestAsk, 1e-9)

	// size 0 撤掉买一档，买一下移
	b.apply("buy", 0.53, 200)
	b.apply("buy", 0.54, 0)
	snap = b.snapshot(0)
	assert.InDelta(t, 0.53, snap.BestBid, 1e-9)
	assert.InDelta(t, 200, snap.BidDepth, 1e-9)
}

// book 事件整体替换盘口并触发回调
func TestPolyFeedProcessBookEvent(t *testing.T) {
	var gotToken string
	var gotSnap models.OrderbookSnapshot
	f := NewPolyFeed(&models.Config{}, func(tokenID string, snap models.OrderbookSnapshot) {
		gotToken = tokenID
		gotSnap = snap
	})

	f.processMessage([]byte(`[{
	  "event_type": "book",
	  "asset_id": "tok-1",
	  "market": "0xabc",
	  "bids": [{"price": "0.54", "size": "100"}, {"price": "0.53", "size": "200"}],
	  "asks": [{"price": "0.56", "size": "150"}],
	  "timestamp": "1700000000000"
	}]`))

	assert.Equal(t, "tok-1", gotToken)
	assert.InDelta(t, 0.54, gotSnap.BestBid, 1e-9)
	assert.InDelta(t, 0.56, gotSnap.BestAsk, 1e-9)
	assert.InDelta(t, 300, gotSnap.BidDepth, 1e-9)
	assert.Equal(t, int64(1_700_000_000_000), gotSnap.Timestamp)
}

// price_change 事件增量修补盘口
func TestPolyFeedProcessPriceChange(t *testing.T) {
	var snaps []models.OrderbookSnapshot
	f := NewPolyFeed(&models.Config{}, func(tokenID string, snap models.OrderbookSnapshot) {
		snaps = append(snaps, snap)
	})

	f.processMessage([]byte(`{
	  "event_type": "book",
	  "asset_id": "tok-1",
	  "bids": [{"price": "0.54", "size": "100"}],
	  "asks": [{"price": "0.56", "size": "150"}],
	  "timestamp": "1"
	}`))
	f.processMessage([]byte(`{
	  "event_type": "price_change",
	  "asset_id": "tok-1",
	  "changes": [
	    {"price": "0.54", "side": "BUY", "size": "0"},
	    {"price": "0.53", "side": "BUY", "size": "300"}
	  ],
	  "timestamp": "2"
	}`))

	require.Len(t, snaps, 2)
	assert.InDelta(t, 0.53, snaps[1].BestBid, 1e-9)
	assert.InDelta(t, 300, snaps[1].BidDepth, 1e-9)
	assert.InDelta(t, 0.56, snaps[1].BestAsk, 1e-9)
}

// 未知事件类型与空 asset_id 静默忽略
func TestPolyFeedIgnoresIrrelevantEvents(t *testing.T) {
	called := false
	f := NewPolyFeed(&models.Config{}, func(string, models.OrderbookSnapshot) { called = true })

	f.processMessage([]byte(`{"event_type": "tick_size_change", "asset_id": "tok-1"}`))
	f.processMessage([]byte(`{"event_type": "book"}`))
	f.processMessage([]byte(`not json`))
	f.processMessage([]byte(``))

	assert.False(t, called)
}
