// Package redis implements workflow.SnapshotStore backed by Redis.
// Suitable for high-throughput workloads where runs suspend and resume
// across processes. Snapshots are stored as MessagePack blobs; a per-
// workflow Sorted Set scored by snapshot time supports listing most
// recent first.
//
// The caller owns the Redis client lifecycle; the store never closes it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/workflow"
)

var _ workflow.SnapshotStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements workflow.SnapshotStore backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed snapshot store. The caller owns the
// Redis client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }

// PersistWorkflowSnapshot writes the snapshot, replacing any previous
// snapshot for the same workflow name and run id.
func (s *Store) PersistWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID, snap *workflow.Snapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("loom/redis: encode snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(workflowName, runID.String()), data, 0)
	pipe.ZAdd(ctx, snapshotIndexKey(workflowName), goredis.Z{
		Score:  float64(snap.Timestamp.UnixNano()),
		Member: runID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: persist snapshot: %w", err)
	}
	return nil
}

// LoadWorkflowSnapshot retrieves the snapshot for a run.
func (s *Store) LoadWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID) (*workflow.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(workflowName, runID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, loom.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("loom/redis: load snapshot: %w", err)
	}

	var snap workflow.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("loom/redis: decode snapshot: %w", err)
	}
	return &snap, nil
}

// ListWorkflowSnapshots returns snapshots for a workflow matching the
// given options, most recent first.
func (s *Store) ListWorkflowSnapshots(ctx context.Context, workflowName string, opts workflow.ListOpts) ([]*workflow.Snapshot, error) {
	runIDs, err := s.client.ZRevRange(ctx, snapshotIndexKey(workflowName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list snapshots: %w", err)
	}

	var snaps []*workflow.Snapshot
	for _, rid := range runIDs {
		data, getErr := s.client.Get(ctx, snapshotKey(workflowName, rid)).Bytes()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("loom/redis: list snapshots get %s: %w", rid, getErr)
		}
		var snap workflow.Snapshot
		if err := msgpack.Unmarshal(data, &snap); err != nil {
			s.logger.Warn("skipping undecodable snapshot",
				slog.String("workflow", workflowName),
				slog.String("run_id", rid),
				slog.String("error", err.Error()),
			)
			continue
		}
		if opts.Status != "" && snap.Status != opts.Status {
			continue
		}
		snaps = append(snaps, &snap)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(snaps) {
			return nil, nil
		}
		snaps = snaps[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(snaps) {
		snaps = snaps[:opts.Limit]
	}
	return snaps, nil
}
