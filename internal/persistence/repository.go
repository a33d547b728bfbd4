package persistence

import "polymarket-updown-bot/internal/models"

// SessionRepository defines the interface for session-state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type SessionRepository interface {
	// SaveState atomically saves the entire session state.
	SaveState(state *models.SessionState) error

	// LoadState loads the session state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.SessionState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
