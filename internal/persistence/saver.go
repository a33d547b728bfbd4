package persistence

import (
	"sync"

	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"
)

// Saver decouples state snapshots from disk writes. Snapshots are queued
// on a buffered channel and written by a dedicated goroutine, so the
// trading path never blocks on BadgerDB.
type Saver struct {
	repo   SessionRepository
	ch     chan *models.SessionState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSaver creates a Saver on top of the given repository.
func NewSaver(repo SessionRepository) *Saver {
	return &Saver{
		repo:   repo,
		ch:     make(chan *models.SessionState, 128),
		stopCh: make(chan struct{}),
	}
}

// Start begins the asynchronous persistence loop.
func (s *Saver) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop drains pending snapshots and shuts the loop down.
func (s *Saver) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Enqueue submits a snapshot for persistence. If the queue is full the
// snapshot is dropped; a fresher one will follow shortly.
func (s *Saver) Enqueue(state *models.SessionState) {
	select {
	case s.ch <- state:
	default:
		logger.S().Warn("persistence queue full, dropping snapshot")
	}
}

func (s *Saver) loop() {
	defer s.wg.Done()
	for {
		select {
		case state := <-s.ch:
			if err := s.repo.SaveState(state); err != nil {
				logger.S().Errorf("CRITICAL: failed to save session state: %v", err)
			}
		case <-s.stopCh:
			// Drain whatever is left before exiting.
			for {
				select {
				case state := <-s.ch:
					if err := s.repo.SaveState(state); err != nil {
						logger.S().Errorf("CRITICAL: failed to save session state: %v", err)
					}
				default:
					return
				}
			}
		}
	}
}
