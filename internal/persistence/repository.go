package persistence

import "dualthrust-bt-go/internal/models"

// StateRepository defines the interface for checkpoint persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveSnapshot atomically saves the checkpoint of one run, replacing any earlier one.
	SaveSnapshot(snapshot *models.RunSnapshot) error

	// LoadSnapshot loads the checkpoint of runID.
	// If no checkpoint is found, it should return (nil, nil).
	LoadSnapshot(runID string) (*models.RunSnapshot, error)

	// Close gracefully closes the connection to the database.
	Close() error
}

// BarCache stores loaded bar sequences so repeated runs skip parsing and downloading.
type BarCache interface {
	SaveBars(key string, bars []models.Bar) error
	// LoadBars returns (nil, nil) when key is not cached.
	LoadBars(key string) ([]models.Bar, error)
}
