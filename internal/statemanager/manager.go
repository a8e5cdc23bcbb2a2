package statemanager

import (
	"dualthrust-bt-go/internal/models"
	"dualthrust-bt-go/internal/persistence"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	CheckpointEvent EventType = iota
	StateResetEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time // bar time the event refers to
	Data      interface{}
}

// StateManager is responsible for holding the latest run checkpoint and persisting it.
// It ensures that all state changes are processed serially, off the replay loop.
type StateManager struct {
	mu              sync.RWMutex
	state           *models.RunSnapshot
	repo            persistence.StateRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.RunSnapshot
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. repo may be nil to keep snapshots in memory only.
func NewStateManager(initialState *models.RunSnapshot, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),    // Buffered channel
		persistenceChan: make(chan *models.RunSnapshot, 128), // Buffered channel for snapshots to be persisted
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop shuts down the StateManager after every queued event has been persisted.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stopChan) })
	sm.wg.Wait()
	sm.logger.Sugar().Info("StateManager stopped.")
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// Checkpoint queues snapshot for persistence. It satisfies backtest.Checkpointer.
func (sm *StateManager) Checkpoint(snapshot *models.RunSnapshot) {
	if snapshot == nil {
		return
	}
	sm.DispatchEvent(NormalizedEvent{Type: CheckpointEvent, Timestamp: snapshot.LastBarTime, Data: snapshot})
}

// GetStateSnapshot returns a copy of the latest checkpoint for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.RunSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.copyState()
}

// copyState must be called with mu held. The streams are cloned so readers never share them.
func (sm *StateManager) copyState() *models.RunSnapshot {
	return sm.state.Clone()
}

// eventLoop is the core processing loop that handles all incoming events serially.
// On stop it drains whatever is still queued, then closes the persistence channel.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	defer close(sm.persistenceChan)
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of snapshots until the channel is closed.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for stateToSave := range sm.persistenceChan {
		if sm.repo == nil {
			continue
		}
		if err := sm.repo.SaveSnapshot(stateToSave); err != nil {
			sm.logger.Sugar().Errorf("CRITICAL: Failed to save checkpoint %s: %v", stateToSave.RunID, err)
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	switch event.Type {
	case CheckpointEvent, StateResetEvent:
		snapshot, ok := event.Data.(*models.RunSnapshot)
		if !ok || snapshot == nil {
			sm.logger.Sugar().Warnf("Received event %d with unexpected data type: %T", event.Type, event.Data)
			return
		}
		sm.mu.Lock()
		sm.state = snapshot.Clone()
		sm.mu.Unlock()
		if event.Type == StateResetEvent {
			sm.logger.Sugar().Infof("State has been reset to run %s at bar %d.", snapshot.RunID, snapshot.BarsProcessed)
		}
	default:
		sm.logger.Sugar().Warnf("Received unknown event type %d", event.Type)
		return
	}

	// After processing, send a copy of the new state to the persistence channel.
	sm.mu.RLock()
	stateCopy := sm.copyState()
	sm.mu.RUnlock()
	if stateCopy != nil {
		sm.persistenceChan <- stateCopy
	}
}
