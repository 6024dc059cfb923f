package bunstore

import (
	"time"

	"github.com/uptrace/bun"
)

// snapshotModel is the persisted form of a run snapshot. The snapshot
// body is an opaque JSONB document; status and updated_at are lifted out
// as columns so list queries can filter and order without decoding.
type snapshotModel struct {
	bun.BaseModel `bun:"table:loom_snapshots"`

	WorkflowName string    `bun:"workflow_name,pk"`
	RunID        string    `bun:"run_id,pk"`
	Status       string    `bun:"status,notnull"`
	Data         []byte    `bun:"data,notnull,type:jsonb"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
