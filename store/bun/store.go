// Package bunstore implements workflow.SnapshotStore using the Bun ORM
// with PostgreSQL dialect. Suitable for deployments that want snapshots
// in the same Postgres the rest of the application uses.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/loom/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/uptrace/bun"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ workflow.SnapshotStore = (*Store)(nil)

// Store is a Bun ORM implementation of workflow.SnapshotStore using
// PostgreSQL dialect. The caller owns the *bun.DB lifecycle; Store never
// closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a new Bun store. The caller owns the db lifecycle; the
// Store will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS loom_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("loom/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loom/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM loom_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("loom/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("loom/bun: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("loom/bun: execute migration %s: %w", entry.Name(), execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO loom_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("loom/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error { return nil }

// PersistWorkflowSnapshot upserts the snapshot for a run.
func (s *Store) PersistWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID, snap *workflow.Snapshot) error {
	m, err := toSnapshotModel(workflowName, runID, snap)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(m).
		On("CONFLICT (workflow_name, run_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/bun: persist snapshot: %w", err)
	}
	return nil
}

// LoadWorkflowSnapshot retrieves the snapshot for a run.
func (s *Store) LoadWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID) (*workflow.Snapshot, error) {
	m := new(snapshotModel)
	err := s.db.NewSelect().
		Model(m).
		Where("workflow_name = ?", workflowName).
		Where("run_id = ?", runID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, loom.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("loom/bun: load snapshot: %w", err)
	}
	return fromSnapshotModel(m)
}

// ListWorkflowSnapshots returns snapshots for a workflow matching the
// given options, most recent first.
func (s *Store) ListWorkflowSnapshots(ctx context.Context, workflowName string, opts workflow.ListOpts) ([]*workflow.Snapshot, error) {
	var models []snapshotModel
	q := s.db.NewSelect().
		Model(&models).
		Where("workflow_name = ?", workflowName).
		Order("updated_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("loom/bun: list snapshots: %w", err)
	}

	snaps := make([]*workflow.Snapshot, 0, len(models))
	for i := range models {
		snap, err := fromSnapshotModel(&models[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// toSnapshotModel encodes the snapshot body as JSON alongside the
// queryable columns.
func toSnapshotModel(workflowName string, runID id.RunID, snap *workflow.Snapshot) (*snapshotModel, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("loom/bun: encode snapshot: %w", err)
	}
	return &snapshotModel{
		WorkflowName: workflowName,
		RunID:        runID.String(),
		Status:       string(snap.Status),
		Data:         data,
		UpdatedAt:    snap.Timestamp,
	}, nil
}

func fromSnapshotModel(m *snapshotModel) (*workflow.Snapshot, error) {
	var snap workflow.Snapshot
	if err := json.Unmarshal(m.Data, &snap); err != nil {
		return nil, fmt.Errorf("loom/bun: decode snapshot %s/%s: %w", m.WorkflowName, m.RunID, err)
	}
	return &snap, nil
}
