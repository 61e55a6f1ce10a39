package subagent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Registry tracks child runs and their lifecycle
type Registry struct {
	runs   map[string]*RunRecord
	now    func() time.Time
	logger zerolog.Logger
	mu     sync.RWMutex

	listeners  []Listener
	listenerMu sync.RWMutex
}

// RegistryConfig holds registry configuration
type RegistryConfig struct {
	Logger zerolog.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		runs:   make(map[string]*RunRecord),
		now:    cfg.Clock,
		logger: cfg.Logger.With().Str("component", "subagent_registry").Logger(),
	}
}

// Register records a pending child run and returns its id. The child's
// session key is derived from the parent key and the id.
func (r *Registry) Register(params RunParams) (*RunRecord, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:               id,
		ParentSessionKey: params.ParentSessionKey,
		ChildSessionKey:  ChildSessionKey(params.ParentSessionKey, id),
		AgentID:          params.AgentID,
		Task:             params.Task,
		Model:            params.Model,
		Depth:            params.Depth,
		Detached:         params.Detached,
		Status:           StatusPending,
		StartedAt:        r.now(),
	}

	r.mu.Lock()
	r.runs[id] = record
	snapshot := *record
	r.mu.Unlock()

	r.logger.Debug().
		Str("id", id).
		Str("parent_session_key", params.ParentSessionKey).
		Str("agent_id", params.AgentID).
		Msg("Child run registered")

	r.emit(snapshot)
	return &snapshot, nil
}

// ChildSessionKey builds the session key of a child run
func ChildSessionKey(parentKey, id string) string {
	return parentKey + ":sub:" + id
}

// Start marks a pending run as running under runID
func (r *Registry) Start(id, runID string) error {
	return r.update(id, func(rec *RunRecord) {
		rec.Status = StatusRunning
		rec.RunID = runID
	})
}

// Finish moves a run into a terminal status
func (r *Registry) Finish(id string, status RunStatus, result, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return r.update(id, func(rec *RunRecord) {
		now := r.now()
		rec.Status = status
		rec.CompletedAt = &now
		rec.Result = result
		rec.Error = errMsg
	})
}

func (r *Registry) update(id string, fn func(*RunRecord)) error {
	r.mu.Lock()
	record, exists := r.runs[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}
	if record.Status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("run %s already %s", id, record.Status)
	}
	fn(record)
	snapshot := *record
	r.mu.Unlock()

	r.logger.Debug().Str("id", id).Str("status", string(snapshot.Status)).Msg("Child run updated")
	r.emit(snapshot)
	return nil
}

// Get returns a copy of a record
func (r *Registry) Get(id string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *record, true
}

// ByChildSession finds the record of a child session key
func (r *Registry) ByChildSession(childKey string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.runs {
		if record.ChildSessionKey == childKey {
			return *record, true
		}
	}
	return RunRecord{}, false
}

// Children returns the direct children of a session, oldest first
func (r *Registry) Children(sessionKey string) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	children := []RunRecord{}
	for _, record := range r.runs {
		if record.ParentSessionKey == sessionKey {
			children = append(children, *record)
		}
	}
	sortByStart(children)
	return children
}

// Descendants returns every nested child of a session, oldest first
func (r *Registry) Descendants(sessionKey string) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descendants := []RunRecord{}
	r.addDescendants(sessionKey, &descendants)
	sortByStart(descendants)
	return descendants
}

func (r *Registry) addDescendants(parentKey string, descendants *[]RunRecord) {
	for _, record := range r.runs {
		if record.ParentSessionKey == parentKey {
			*descendants = append(*descendants, *record)
			r.addDescendants(record.ChildSessionKey, descendants)
		}
	}
}

// CountActive counts pending and running children of a session
func (r *Registry) CountActive(sessionKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, record := range r.runs {
		if record.ParentSessionKey == sessionKey && !record.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Cleanup removes terminal runs that completed more than retention ago
func (r *Registry) Cleanup(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, record := range r.runs {
		if !record.Status.IsTerminal() || record.CompletedAt == nil {
			continue
		}
		if record.CompletedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("Cleanup completed")
	}
	return removed
}

// Stats returns registry statistics
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalRuns: len(r.runs)}
	for _, record := range r.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusAborted:
			stats.AbortedRuns++
		}
	}
	return stats
}

// On registers a listener for every record change
func (r *Registry) On(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) emit(record RunRecord) {
	r.listenerMu.RLock()
	listeners := r.listeners
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		l(record)
	}
}

func sortByStart(records []RunRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
