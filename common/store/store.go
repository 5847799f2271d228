// Package store persists workflows, runs, and node runs. MemoryStore
// is the default backend; a Postgres-backed implementation with the
// same shape lives in common/repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/paidflow/orchestrator/common/models"
)

// ErrNotFound is returned for absent workflows or runs.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when an update would move a run
// through a disallowed status transition, for example resurrecting a
// cancelled run. Writers racing a cancellation land here.
var ErrInvalidTransition = errors.New("invalid run status transition")

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.WorkflowSpec
	runs      map[uuid.UUID]*models.Run
	nodeRuns  map[uuid.UUID][]*models.NodeRun
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*models.WorkflowSpec),
		runs:      make(map[uuid.UUID]*models.Run),
		nodeRuns:  make(map[uuid.UUID][]*models.NodeRun),
	}
}

// SaveWorkflow inserts or replaces a workflow definition.
func (s *MemoryStore) SaveWorkflow(_ context.Context, spec *models.WorkflowSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *spec
	s.workflows[spec.ID] = &copied
	return nil
}

// GetWorkflow returns the workflow with the given id.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*models.WorkflowSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	copied := *spec
	return &copied, nil
}

// CreateRun inserts a new run.
func (s *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("run %s already exists", run.RunID)
	}
	copied := *run
	s.runs[run.RunID] = &copied
	return nil
}

// GetRun returns a copy of the run.
func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	copied := *run
	return &copied, nil
}

// UpdateRun replaces the stored run, enforcing the status lifecycle.
// An update whose status neither matches the stored one nor is a legal
// transition from it fails with ErrInvalidTransition.
func (s *MemoryStore) UpdateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.RunID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.RunID, ErrNotFound)
	}
	if existing.Status != run.Status && !existing.Status.CanTransition(run.Status) {
		return fmt.Errorf("run %s: %s -> %s: %w", run.RunID, existing.Status, run.Status, ErrInvalidTransition)
	}
	copied := *run
	s.runs[run.RunID] = &copied
	return nil
}

// CreateNodeRun appends a node run record.
func (s *MemoryStore) CreateNodeRun(_ context.Context, nr *models.NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *nr
	s.nodeRuns[nr.RunID] = append(s.nodeRuns[nr.RunID], &copied)
	return nil
}

// UpdateNodeRun replaces a node run record by its id.
func (s *MemoryStore) UpdateNodeRun(_ context.Context, nr *models.NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.nodeRuns[nr.RunID] {
		if existing.ID == nr.ID {
			copied := *nr
			s.nodeRuns[nr.RunID][i] = &copied
			return nil
		}
	}
	return fmt.Errorf("node run %s: %w", nr.ID, ErrNotFound)
}

// ListNodeRuns returns the node runs for a run in insertion order.
func (s *MemoryStore) ListNodeRuns(_ context.Context, runID uuid.UUID) ([]*models.NodeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.NodeRun, 0, len(s.nodeRuns[runID]))
	for _, nr := range s.nodeRuns[runID] {
		copied := *nr
		out = append(out, &copied)
	}
	return out, nil
}

// ListRuns returns every run, newest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
