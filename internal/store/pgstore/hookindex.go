package pgstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/store"
)

// Register implements hook.Index over workflow_hooks, upserting on the
// (job_id, activity_id, dimensional_addr) natural key so a redelivered Leg 1
// registration message is idempotent rather than producing a duplicate row.
func (s *Store) Register(ctx context.Context, reg hook.Registration, txn store.Txn) error {
	db := tx(s.db, txn).WithContext(ctx)
	row := &hookRow{
		JobID:           reg.JobID,
		ActivityID:      reg.ActivityID,
		DimensionalAddr: reg.DimensionalAddr,
		Topic:           reg.Topic,
		StreamTopic:     reg.StreamTopic,
		Deadline:        reg.Deadline,
	}
	return s.run(func() error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "activity_id"}, {Name: "dimensional_addr"}},
			DoUpdates: clause.AssignmentColumns([]string{"topic", "stream_topic", "deadline"}),
		}).Create(row).Error
	})
}

// MatchTopic returns every registration waiting on topic for jobID.
func (s *Store) MatchTopic(ctx context.Context, jobID uuid.UUID, topic string) ([]hook.Registration, error) {
	var rows []hookRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("job_id = ? AND topic = ?", jobID, topic).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

// DueSleeps returns registrations whose deadline has elapsed.
func (s *Store) DueSleeps(ctx context.Context, before time.Time) ([]hook.Registration, error) {
	var rows []hookRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("deadline IS NOT NULL AND deadline <= ?", before).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

// Remove deletes a registration once its hook has resumed.
func (s *Store) Remove(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string, txn store.Txn) error {
	db := tx(s.db, txn).WithContext(ctx)
	return s.run(func() error {
		return db.Where("job_id = ? AND activity_id = ? AND dimensional_addr = ?", jobID, activityID, dimensionalAddr).
			Delete(&hookRow{}).Error
	})
}

// ByJob returns every registration for jobID regardless of topic (§4.8
// SUPPLEMENT, interrupt propagation).
func (s *Store) ByJob(ctx context.Context, jobID uuid.UUID) ([]hook.Registration, error) {
	var rows []hookRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toRegistrations(rows), nil
}

func toRegistrations(rows []hookRow) []hook.Registration {
	out := make([]hook.Registration, 0, len(rows))
	for _, r := range rows {
		out = append(out, hook.Registration{
			JobID:           r.JobID,
			ActivityID:      r.ActivityID,
			DimensionalAddr: r.DimensionalAddr,
			Topic:           r.Topic,
			StreamTopic:     r.StreamTopic,
			Deadline:        r.Deadline,
		})
	}
	return out
}

var _ hook.Index = (*Store)(nil)
