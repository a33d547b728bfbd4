package persistence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"polymarket-updown-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessionRepository is a mock implementation of the SessionRepository interface for testing.
type mockSessionRepository struct {
	sync.Mutex
	savedStates  []*models.SessionState
	loadState    *models.SessionState
	loadError    error
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveState is done
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{
		saveDoneChan: make(chan bool, 16),
	}
}

func (m *mockSessionRepository) SaveState(state *models.SessionState) error {
	m.Lock()
	defer m.Unlock()

	// Deep copy the state to simulate real persistence and avoid race conditions in tests
	copiedState := *state
	if state.ExitCooldowns != nil {
		copiedState.ExitCooldowns = make(map[string]int64, len(state.ExitCooldowns))
		for k, v := range state.ExitCooldowns {
			copiedState.ExitCooldowns[k] = v
		}
	}
	m.savedStates = append(m.savedStates, &copiedState)

	m.saveDoneChan <- true
	return m.saveError
}

func (m *mockSessionRepository) LoadState() (*models.SessionState, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadState, m.loadError
}

func (m *mockSessionRepository) Close() error {
	return nil
}

func (m *mockSessionRepository) savedCount() int {
	m.Lock()
	defer m.Unlock()
	return len(m.savedStates)
}

func (m *mockSessionRepository) lastSaved() *models.SessionState {
	m.Lock()
	defer m.Unlock()
	if len(m.savedStates) == 0 {
		return nil
	}
	return m.savedStates[len(m.savedStates)-1]
}

func waitForSave(t *testing.T, repo *mockSessionRepository) {
	t.Helper()
	select {
	case <-repo.saveDoneChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SaveState")
	}
}

func TestSaverPersistsEnqueuedState(t *testing.T) {
	repo := newMockSessionRepository()
	saver := NewSaver(repo)
	saver.Start()
	defer saver.Stop()

	state := &models.SessionState{
		Day:         "2026-08-26",
		DailyPnlUSD: -42.5,
		ExitCooldowns: map[string]int64{
			"BTC:up": 1_700_000_000_000,
		},
	}
	saver.Enqueue(state)
	waitForSave(t, repo)

	saved := repo.lastSaved()
	require.NotNil(t, saved)
	assert.Equal(t, "2026-08-26", saved.Day)
	assert.InDelta(t, -42.5, saved.DailyPnlUSD, 1e-9)
	assert.Equal(t, int64(1_700_000_000_000), saved.ExitCooldowns["BTC:up"])
}

func TestSaverDrainsQueueOnStop(t *testing.T) {
	repo := newMockSessionRepository()
	repo.saveDoneChan = make(chan bool, 64)
	saver := NewSaver(repo)

	// Enqueue before the loop starts; Stop must flush the backlog.
	for i := 0; i < 5; i++ {
		saver.Enqueue(&models.SessionState{DailyPnlUSD: float64(i)})
	}
	saver.Start()
	saver.Stop()

	assert.Equal(t, 5, repo.savedCount())
	assert.InDelta(t, 4.0, repo.lastSaved().DailyPnlUSD, 1e-9)
}

func TestSaverSurvivesSaveError(t *testing.T) {
	repo := newMockSessionRepository()
	repo.saveError = errors.New("disk full")
	saver := NewSaver(repo)
	saver.Start()
	defer saver.Stop()

	saver.Enqueue(&models.SessionState{Day: "2026-08-26"})
	waitForSave(t, repo)

	// The loop keeps running after a failed save.
	repo.Lock()
	repo.saveError = nil
	repo.Unlock()

	saver.Enqueue(&models.SessionState{Day: "2026-08-27"})
	waitForSave(t, repo)
	assert.Equal(t, 2, repo.savedCount())
	assert.Equal(t, "2026-08-27", repo.lastSaved().Day)
}
