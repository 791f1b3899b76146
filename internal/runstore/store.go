// Package runstore keeps pipeline runs in memory. All operations on one run
// are linearized behind a per-run lock; different runs never contend. Reads
// hand out deep copies, so callers cannot mutate store state. Idle runs are
// evicted by a TTL sweep that also drops their timeline segments.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/timeline"
)

var (
	// ErrNotFound is returned for unknown or evicted run ids.
	ErrNotFound = errors.New("runstore: run not found")

	// ErrConflict is returned when a phase transition or terminal mark is
	// rejected because the run is not in an expected state.
	ErrConflict = errors.New("runstore: conflicting run state")
)

// entry pairs a run with its lock. The lock covers every field of the run;
// holding it is what linearizes same-run operations.
type entry struct {
	mu       sync.Mutex
	run      *model.Run
	segments []uuid.UUID // outreach segments owned by this run, for eviction
}

// Store is the in-memory run store.
type Store struct {
	bus    *timeline.Bus
	logger *slog.Logger
	ttl    time.Duration

	mu   sync.RWMutex
	runs map[uuid.UUID]*entry
}

// NewStore creates a run store publishing lifecycle events to bus. Runs idle
// longer than ttl are eligible for eviction once Start's sweep runs.
func NewStore(bus *timeline.Bus, logger *slog.Logger, ttl time.Duration) *Store {
	return &Store{
		bus:    bus,
		logger: logger,
		ttl:    ttl,
		runs:   make(map[uuid.UUID]*entry),
	}
}

// Create registers a new pending run and returns a snapshot of it.
func (s *Store) Create(ctx context.Context) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:         uuid.New(),
		Status:     model.RunStatusPending,
		Phase:      model.PhaseCreated,
		Outputs:    make(map[model.Stage]model.StageResult),
		CreatedAt:  now,
		UpdatedAt:  now,
		LastAccess: now,
	}

	s.mu.Lock()
	s.runs[run.ID] = &entry{run: run}
	s.mu.Unlock()

	return run.Clone(), nil
}

// Get returns a deep copy of the run. Reading a run counts as access for
// TTL purposes.
func (s *Store) Get(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	e, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.LastAccess = time.Now().UTC()
	return e.run.Clone(), nil
}

// Update records a stage's output and appends the stage to the run's
// history. Every successful update also publishes a System-tagged
// completion event to the run's timeline.
func (s *Store) Update(ctx context.Context, runID uuid.UUID, stage model.Stage, output model.StageResult) error {
	e, err := s.lookup(runID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.run.Status == model.RunStatusFailed {
		e.mu.Unlock()
		return fmt.Errorf("runstore: update %s stage: run is failed: %w", stage, ErrConflict)
	}
	now := time.Now().UTC()
	e.run.Outputs[stage] = output
	e.run.Stages = append(e.run.Stages, stage)
	e.run.UpdatedAt = now
	e.run.LastAccess = now
	e.mu.Unlock()

	// Outreach re-invocations stream into their own segment; everything
	// else lands on the run's primary timeline.
	target := runID
	if output.Writer != nil && output.Writer.SegmentRunID != "" {
		if segID, err := uuid.Parse(output.Writer.SegmentRunID); err == nil {
			target = segID
		}
	}
	s.bus.Publish(target, model.NewEvent(
		model.AgentSystem,
		model.EventStageCompleted,
		model.LevelInfo,
		fmt.Sprintf("%s stage completed", stage),
		model.StageCompletedPayload{Stage: stage},
	))
	return nil
}

// MarkFailed moves the run to its terminal failed state. Sticky: once a run
// has failed, later failures are ignored so the first cause is preserved.
func (s *Store) MarkFailed(ctx context.Context, runID uuid.UUID, runErr model.RunError) error {
	e, err := s.lookup(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status == model.RunStatusFailed {
		return nil
	}
	now := time.Now().UTC()
	e.run.Status = model.RunStatusFailed
	e.run.Phase = model.PhaseFailed
	e.run.Error = &runErr
	e.run.UpdatedAt = now
	e.run.LastAccess = now
	return nil
}

// MarkCompleted moves the run to its terminal completed state.
func (s *Store) MarkCompleted(ctx context.Context, runID uuid.UUID) error {
	e, err := s.lookup(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status == model.RunStatusFailed {
		return fmt.Errorf("runstore: mark completed: run is failed: %w", ErrConflict)
	}
	now := time.Now().UTC()
	e.run.Status = model.RunStatusCompleted
	e.run.UpdatedAt = now
	e.run.LastAccess = now
	return nil
}

// TransitionPhase atomically moves the run from one of the from phases to
// to. A run in any other phase yields ErrConflict. The run's status is
// derived from the new phase.
func (s *Store) TransitionPhase(ctx context.Context, runID uuid.UUID, from []model.Phase, to model.Phase) error {
	e, err := s.lookup(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.run.Phase
	allowed := false
	for _, p := range from {
		if current == p {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("runstore: transition %s -> %s: run is %s: %w", from, to, current, ErrConflict)
	}

	now := time.Now().UTC()
	e.run.Phase = to
	e.run.Status = statusForPhase(to)
	e.run.UpdatedAt = now
	e.run.LastAccess = now
	return nil
}

// AttachSegment records an outreach timeline segment as owned by the run,
// so eviction can drop it along with the run's primary segment.
func (s *Store) AttachSegment(ctx context.Context, runID, segmentID uuid.UUID) error {
	e, err := s.lookup(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segments = append(e.segments, segmentID)
	e.run.LastAccess = time.Now().UTC()
	return nil
}

// ActiveRuns reports how many runs are currently held.
func (s *Store) ActiveRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Start runs the eviction sweep until ctx is cancelled. It blocks, so call
// it in a goroutine.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts runs idle past the TTL. Running runs are never evicted, no
// matter how stale their last access is.
func (s *Store) sweep() {
	cutoff := time.Now().UTC().Add(-s.ttl)

	s.mu.RLock()
	candidates := make(map[uuid.UUID]*entry, len(s.runs))
	for id, e := range s.runs {
		candidates[id] = e
	}
	s.mu.RUnlock()

	for id, e := range candidates {
		e.mu.Lock()
		evict := e.run.Status != model.RunStatusRunning && e.run.LastAccess.Before(cutoff)
		idle := time.Since(e.run.LastAccess)
		segments := e.segments
		e.mu.Unlock()
		if !evict {
			continue
		}

		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()

		s.bus.Drop(id)
		for _, seg := range segments {
			s.bus.Drop(seg)
		}
		s.logger.Info("runstore: evicted idle run", "run_id", id, "idle", idle)
	}
}

func (s *Store) lookup(runID uuid.UUID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runstore: run %s: %w", runID, ErrNotFound)
	}
	return e, nil
}

// statusForPhase derives the coarse run status from a phase. Done phases
// still map to running: a run only becomes completed through MarkCompleted,
// once the whole invocation (not just one stage) has finished.
func statusForPhase(p model.Phase) model.RunStatus {
	switch p {
	case model.PhaseCreated:
		return model.RunStatusPending
	case model.PhaseFailed:
		return model.RunStatusFailed
	default:
		return model.RunStatusRunning
	}
}
