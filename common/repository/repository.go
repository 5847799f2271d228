// Package repository is the Postgres-backed persistence layer. It
// implements the same surface as store.MemoryStore so deployments with
// DATABASE_URL set survive restarts.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paidflow/orchestrator/common/db"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/store"
)

// Schema creates the tables the repository needs. Workflow documents
// and run payloads are stored as JSONB; hot query columns are lifted
// out for indexing.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow (
	id         TEXT PRIMARY KEY,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run (
	run_id      UUID PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflow(id),
	status      TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS run_workflow_idx ON run (workflow_id, created_at DESC);

CREATE TABLE IF NOT EXISTS node_run (
	id       UUID PRIMARY KEY,
	run_id   UUID NOT NULL REFERENCES run(run_id),
	seq      BIGSERIAL,
	payload  JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS node_run_run_idx ON node_run (run_id, seq);
`

// Repository persists workflows, runs, and node runs in Postgres.
type Repository struct {
	db *db.DB
}

// New creates a repository.
func New(database *db.DB) *Repository {
	return &Repository{db: database}
}

// EnsureSchema creates the tables when they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow definition.
func (r *Repository) SaveWorkflow(ctx context.Context, spec *models.WorkflowSpec) error {
	definition, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	query := `
		INSERT INTO workflow (id, definition, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET definition = $2, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, spec.ID, definition); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns the workflow with the given id.
func (r *Repository) GetWorkflow(ctx context.Context, id string) (*models.WorkflowSpec, error) {
	var definition []byte
	err := r.db.QueryRow(ctx, `SELECT definition FROM workflow WHERE id = $1`, id).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	var spec models.WorkflowSpec
	if err := json.Unmarshal(definition, &spec); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &spec, nil
}

// CreateRun inserts a new run.
func (r *Repository) CreateRun(ctx context.Context, run *models.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	query := `
		INSERT INTO run (run_id, workflow_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Exec(ctx, query, run.RunID, run.WorkflowID, run.Status, payload, run.CreatedAt); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM run WHERE run_id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var run models.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// UpdateRun replaces the stored run, enforcing the status lifecycle in
// the same statement so racing writers cannot resurrect a terminal run.
func (r *Repository) UpdateRun(ctx context.Context, run *models.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	query := `
		UPDATE run SET status = $2, payload = $3
		WHERE run_id = $1
		  AND (status = $2 OR
		       (status = 'queued'  AND $2 IN ('running', 'cancelled')) OR
		       (status = 'running' AND $2 IN ('completed', 'failed', 'cancelled')))
	`
	tag, err := r.db.Exec(ctx, query, run.RunID, run.Status, payload)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetRun(ctx, run.RunID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("run %s: %s -> %s: %w", run.RunID, current.Status, run.Status, store.ErrInvalidTransition)
	}
	return nil
}

// CreateNodeRun appends a node run record.
func (r *Repository) CreateNodeRun(ctx context.Context, nr *models.NodeRun) error {
	payload, err := json.Marshal(nr)
	if err != nil {
		return fmt.Errorf("marshal node run: %w", err)
	}
	query := `INSERT INTO node_run (id, run_id, payload) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, nr.ID, nr.RunID, payload); err != nil {
		return fmt.Errorf("create node run: %w", err)
	}
	return nil
}

// UpdateNodeRun replaces a node run record.
func (r *Repository) UpdateNodeRun(ctx context.Context, nr *models.NodeRun) error {
	payload, err := json.Marshal(nr)
	if err != nil {
		return fmt.Errorf("marshal node run: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE node_run SET payload = $2 WHERE id = $1`, nr.ID, payload)
	if err != nil {
		return fmt.Errorf("update node run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("node run %s: %w", nr.ID, store.ErrNotFound)
	}
	return nil
}

// ListNodeRuns returns a run's node runs in insertion order.
func (r *Repository) ListNodeRuns(ctx context.Context, runID uuid.UUID) ([]*models.NodeRun, error) {
	rows, err := r.db.Query(ctx, `SELECT payload FROM node_run WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list node runs: %w", err)
	}
	defer rows.Close()

	var out []*models.NodeRun
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}
		var nr models.NodeRun
		if err := json.Unmarshal(payload, &nr); err != nil {
			return nil, fmt.Errorf("decode node run: %w", err)
		}
		out = append(out, &nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node runs: %w", err)
	}
	return out, nil
}

// ListRuns returns every run, newest first.
func (r *Repository) ListRuns(ctx context.Context) ([]*models.Run, error) {
	rows, err := r.db.Query(ctx, `SELECT payload FROM run ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run models.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
