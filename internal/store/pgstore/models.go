package pgstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// jobRow is the Postgres row backing a workflow job (§3). FlatState and
// SearchData are jsonb columns, matching the teacher's datatypes.JSON
// convention for arbitrary structured payload columns.
type jobRow struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AppID         string    `gorm:"not null"`
	Semaphore     int64     `gorm:"not null"`
	Threshold     int64     `gorm:"not null;default:0"`
	GenerationID  uuid.UUID `gorm:"type:uuid;not null"`
	ParentJobID   *uuid.UUID `gorm:"type:uuid"`
	FlatState     datatypes.JSON
	SearchData    datatypes.JSON
	ExpireAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (jobRow) TableName() string { return "jobs" }

// activityLedgerRow is one activity's collation ledger at one dimensional
// address (§3, §4.2). (job_id, activity_id, dimensional_addr) is the
// natural key.
type activityLedgerRow struct {
	JobID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ActivityID      string    `gorm:"primaryKey"`
	DimensionalAddr string    `gorm:"primaryKey;column:dimensional_addr"`
	Ledger          int64     `gorm:"not null"`
	UpdatedAt       time.Time
}

func (activityLedgerRow) TableName() string { return "activity_ledgers" }

// guidLedgerRow is one Leg 2 message guid's ledger (§3). (job_id, guid) is
// the natural key.
type guidLedgerRow struct {
	JobID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Guid      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Ledger    int64     `gorm:"not null"`
	UpdatedAt time.Time
}

func (guidLedgerRow) TableName() string { return "guid_ledgers" }

// hookRow is one paused hook activity waiting on a webhook topic or a sleep
// deadline (§4.6). (job_id, activity_id, dimensional_addr) is the natural
// key a signal delivery removes by; topic is indexed since MatchTopic scans
// by (job_id, topic).
type hookRow struct {
	JobID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ActivityID      string    `gorm:"primaryKey"`
	DimensionalAddr string    `gorm:"primaryKey;column:dimensional_addr"`
	Topic           string    `gorm:"index"`
	StreamTopic     string    `gorm:"column:stream_topic"`
	Deadline        *time.Time
	CreatedAt       time.Time
}

func (hookRow) TableName() string { return "workflow_hooks" }
