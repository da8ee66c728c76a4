// Package workflow holds the durable entities of the collation engine: the
// Job, the Activity invocation, the Transition message, and their ledger
// fields (§3). Storage tags follow the teacher's gorm/jsonb convention so
// internal/store/pgstore can persist them directly.
package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job is a top-level workflow instance (§3).
type Job struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AppID        string         `gorm:"column:app_id;not null;index" json:"app_id"`
	Topic        string         `gorm:"column:topic;not null;index" json:"topic"`
	GenerationID uuid.UUID      `gorm:"type:uuid;column:generation_id;not null" json:"generation_id"`
	Semaphore    int64          `gorm:"column:semaphore;not null" json:"semaphore"`
	Threshold    int64          `gorm:"column:threshold;not null;default:0" json:"threshold"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	FlatState    datatypes.JSON `gorm:"column:flat_state;type:jsonb" json:"flat_state"`
	SearchData   datatypes.JSON `gorm:"column:search_data;type:jsonb" json:"search_data,omitempty"`
	ParentJobID  *uuid.UUID     `gorm:"type:uuid;column:parent_job_id;index" json:"parent_job_id,omitempty"`
	ExpireAt     *time.Time     `gorm:"column:expire_at;index" json:"expire_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Job) TableName() string { return "workflow_job" }

// Active reports whether the job is still open for new activity completion
// (semaphore above zero means obligations remain; the §5 interrupt sentinel
// is represented as a negative semaphore and is never active).
func (j *Job) Active() bool {
	return j != nil && j.Semaphore > 0
}

// Complete reports whether the job's semaphore has reached its completion
// threshold (§3: "Semaphore = 0 means job complete", generalized to a
// configurable threshold for expiring-persistent flows).
func (j *Job) Complete() bool {
	return j != nil && j.Semaphore == j.Threshold
}
