package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/meshrun/engine/internal/dimension"
)

// Kind tags the per-type "do-work" hook variant an activity specializes
// (§9 redesign flag: "class inheritance across activity subtypes" is
// re-architected as a single state machine delegating to a tagged kind).
type Kind string

const (
	KindTrigger   Kind = "trigger"
	KindWorker    Kind = "worker"
	KindHook      Kind = "hook"
	KindSignal    Kind = "signal"
	KindCycle     Kind = "cycle"
	KindInterrupt Kind = "interrupt"
	KindAwait     Kind = "await"
	KindIterate   Kind = "iterate"
)

// SignalSubtype distinguishes signal-one (transactional, bundled) from
// signal-all (best-effort fan-out) per §4.4.
type SignalSubtype string

const (
	SignalOne SignalSubtype = "signal_one"
	SignalAll SignalSubtype = "signal_all"
)

// ActivityInvocation is one (job x activity-id x dimensional-address)
// instance (§3).
type ActivityInvocation struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID             uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index:idx_activity_job_addr,priority:1" json:"job_id"`
	ActivityID        string         `gorm:"column:activity_id;not null;index" json:"activity_id"`
	DimensionalAddr   string         `gorm:"column:dimensional_addr;not null;index:idx_activity_job_addr,priority:2" json:"dimensional_addr"`
	Ancestors         datatypes.JSON `gorm:"column:ancestors;type:jsonb" json:"ancestors"`
	Kind              Kind           `gorm:"column:kind;not null" json:"kind"`
	Cyclic            bool           `gorm:"column:cyclic;not null;default:false" json:"cyclic"`
	Ledger            int64          `gorm:"column:ledger;not null" json:"ledger"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	Error             string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ActivityInvocation) TableName() string { return "workflow_activity" }

// Address parses the stored dimensional address.
func (a *ActivityInvocation) Address() dimension.Address {
	return dimension.Parse(a.DimensionalAddr)
}

// GuidLedger is the per-transition-message-guid ledger (§3).
type GuidLedger struct {
	JobID     uuid.UUID `gorm:"type:uuid;column:job_id;not null;index:idx_guid_job,priority:1" json:"job_id"`
	Guid      uuid.UUID `gorm:"type:uuid;column:guid;primaryKey" json:"guid"`
	Ledger    int64     `gorm:"column:ledger;not null" json:"ledger"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (GuidLedger) TableName() string { return "workflow_guid_ledger" }
