// Package ledger persists mission runs and their ordered timeline events.
// Runs are created once and only their status, finish time and detail may
// change afterwards; events are immutable and sequence numbers are never
// reused within a run.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/model"
)

var (
	// ErrRunNotFound is returned for operations on an unknown run id.
	ErrRunNotFound = errors.New("ledger: run not found")
	// ErrRunExists is returned when creating a run id twice.
	ErrRunExists = errors.New("ledger: run already exists")
	// ErrDuplicateSeq is returned when an event reuses a sequence number.
	ErrDuplicateSeq = errors.New("ledger: duplicate event sequence")
	// ErrRunFinished is returned when updating a run in a terminal state.
	ErrRunFinished = errors.New("ledger: run already finished")
)

// Store is the persistence contract behind a Ledger.
type Store interface {
	CreateRun(ctx context.Context, run model.MissionRun) error
	UpdateRun(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time, detail string) error
	GetRun(ctx context.Context, runID string) (model.MissionRun, error)
	// ListRuns returns runs newest first; limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]model.MissionRun, error)
	AppendEvent(ctx context.Context, event model.TimelineEvent) error
	// ListEvents returns a run's events in ascending sequence order.
	ListEvents(ctx context.Context, runID string) ([]model.TimelineEvent, error)
}

// Ledger validates requests and delegates to a Store.
type Ledger struct {
	store Store
	clock identity.Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock that stamps runs and events created without a
// time.
func WithClock(c identity.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// New returns a ledger over store using the system clock unless
// overridden.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, clock: identity.SystemClock{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CreateRun records a new run header. Status defaults to Pending.
func (l *Ledger) CreateRun(ctx context.Context, run model.MissionRun) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("ledger: run id is required")
	}
	if strings.TrimSpace(run.BundleRoot) == "" {
		return fmt.Errorf("ledger: bundle root is required")
	}
	if run.Status == "" {
		run.Status = model.RunPending
	}
	if !validRunStatus(run.Status) {
		return fmt.Errorf("ledger: invalid run status %q", run.Status)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = l.clock.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return l.store.CreateRun(ctx, run)
}

// UpdateRunStatus moves a run to status. A terminal run cannot change.
func (l *Ledger) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time, detail string) error {
	if !validRunStatus(status) {
		return fmt.Errorf("ledger: invalid run status %q", status)
	}
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}
	if !finishedAt.IsZero() {
		finishedAt = finishedAt.UTC()
	}
	return l.store.UpdateRun(ctx, runID, status, finishedAt, detail)
}

// AppendEvent adds one event. Seq must be positive and unused for the run.
func (l *Ledger) AppendEvent(ctx context.Context, event model.TimelineEvent) error {
	if strings.TrimSpace(event.RunID) == "" {
		return fmt.Errorf("ledger: event run id is required")
	}
	if event.Seq <= 0 {
		return fmt.Errorf("ledger: event seq must be positive, got %d", event.Seq)
	}
	if event.Phase == "" || event.Status == "" {
		return fmt.Errorf("ledger: event phase and status are required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	return l.store.AppendEvent(ctx, event)
}

// GetTimeline returns a run's events in ascending seq order.
func (l *Ledger) GetTimeline(ctx context.Context, runID string) ([]model.TimelineEvent, error) {
	if _, err := l.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return l.store.ListEvents(ctx, runID)
}

// GetRun returns one run header.
func (l *Ledger) GetRun(ctx context.Context, runID string) (model.MissionRun, error) {
	return l.store.GetRun(ctx, runID)
}

// ListRuns returns runs newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]model.MissionRun, error) {
	return l.store.ListRuns(ctx, limit)
}

func validRunStatus(s model.RunStatus) bool {
	switch s {
	case model.RunPending, model.RunRunning, model.RunCompleted, model.RunFailed:
		return true
	}
	return false
}
