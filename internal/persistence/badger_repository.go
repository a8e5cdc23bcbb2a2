package persistence

import (
	"dualthrust-bt-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

const (
	snapshotPrefix = "snapshot/"
	streamsPrefix  = "streams/"
	barsPrefix     = "bars/"
)

// BadgerRepository keeps run checkpoints and cached bars in one BadgerDB directory.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled; errors still come back from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}
	return &BadgerRepository{db: db}, nil
}

// SaveSnapshot stores the snapshot under snapshot/<runID> and its output streams under
// streams/<runID>, both in one transaction.
func (r *BadgerRepository) SaveSnapshot(snapshot *models.RunSnapshot) error {
	if snapshot == nil || snapshot.RunID == "" {
		return errors.New("snapshot without run id")
	}
	head, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	streams, err := json.Marshal(snapshot.Streams)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotPrefix+snapshot.RunID), head); err != nil {
			return err
		}
		return txn.Set([]byte(streamsPrefix+snapshot.RunID), streams)
	})
}

// LoadSnapshot loads the checkpoint of runID, or (nil, nil) when there is none.
func (r *BadgerRepository) LoadSnapshot(runID string) (*models.RunSnapshot, error) {
	var snapshot models.RunSnapshot
	found, err := r.get(snapshotPrefix+runID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	if snapshot.Version != models.SnapshotVersion {
		return nil, fmt.Errorf("snapshot %s has version %d, want %d", runID, snapshot.Version, models.SnapshotVersion)
	}
	found, err = r.get(streamsPrefix+runID, &snapshot.Streams)
	if err != nil {
		return nil, fmt.Errorf("load streams of %s: %w", runID, err)
	}
	if !found {
		return nil, fmt.Errorf("snapshot %s has no streams", runID)
	}
	return &snapshot, nil
}

// SaveBars caches a bar sequence under key.
func (r *BadgerRepository) SaveBars(key string, bars []models.Bar) error {
	return r.put(barsPrefix+key, bars)
}

// LoadBars returns the cached bars of key, or (nil, nil) when nothing is cached.
func (r *BadgerRepository) LoadBars(key string) ([]models.Bar, error) {
	var bars []models.Bar
	found, err := r.get(barsPrefix+key, &bars)
	if err != nil || !found {
		return nil, err
	}
	return bars, nil
}

// Close gracefully closes the connection to the database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerRepository) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get decodes the value under key into v. found is false when the key does not exist.
func (r *BadgerRepository) get(key string, v interface{}) (found bool, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			// ErrKeyNotFound is checked outside the transaction.
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
