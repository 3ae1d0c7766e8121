package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/missionctl/internal/model"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	runs   map[string]model.MissionRun
	order  []string
	events map[string][]model.TimelineEvent
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]model.MissionRun),
		events: make(map[string][]model.TimelineEvent),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run model.MissionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, runID string, status model.RunStatus, finishedAt time.Time, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Status = status
	run.FinishedAt = finishedAt
	run.Detail = detail
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.MissionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return model.MissionRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.MissionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]model.MissionRun, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		runs = append(runs, s.runs[s.order[i]])
	}
	// Insertion order breaks ties between equal creation times.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event model.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[event.RunID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, event.RunID)
	}
	for _, e := range s.events[event.RunID] {
		if e.Seq == event.Seq {
			return fmt.Errorf("%w: run %s seq %d", ErrDuplicateSeq, event.RunID, event.Seq)
		}
	}
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, runID string) ([]model.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.TimelineEvent, len(s.events[runID]))
	copy(events, s.events[runID])
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}
