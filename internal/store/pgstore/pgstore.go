// Package pgstore is the Postgres binding of store.Provider (§4.1), built
// on gorm.io/gorm the way the teacher's internal/data/repos/jobs.jobRunRepo
// binds its own JobRunRepo: row locking via gorm/clause, transactions via
// db.Transaction, and atomic counter increments via gorm.Expr rather than
// read-modify-write.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meshrun/engine/internal/ledger"
	"github.com/meshrun/engine/internal/platform/logger"
	"github.com/meshrun/engine/internal/store"
)

// Store is the gorm-backed store.Provider implementation.
type Store struct {
	db      *gorm.DB
	log     *logger.Logger
	breaker *gobreaker.CircuitBreaker
}

// New wraps db with a circuit breaker that trips after repeated failures,
// matching the teacher's per-dependency isolation posture (see
// jordigilh-kubernaut's circuitbreaker.Manager, the pack's reference for
// gobreaker.Settings construction): a crash storm against Postgres opens
// the breaker rather than piling up retries against a database that's
// already down.
func New(db *gorm.DB, log *logger.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pgstore",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Store{db: db, log: log.With("component", "pgstore"), breaker: cb}
}

// AutoMigrate creates/updates the engine's four tables. Called once at
// process bootstrap (cmd/engined), mirroring the teacher's db.AutoMigrate
// bootstrap call for its own domain types.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&jobRow{}, &activityLedgerRow{}, &guidLedgerRow{}, &hookRow{})
}

func tx(db *gorm.DB, txn store.Txn) *gorm.DB {
	if txn == nil {
		return db
	}
	t, ok := txn.(*gorm.DB)
	if !ok {
		panic("pgstore: txn is not a *gorm.DB")
	}
	return t
}

func (s *Store) run(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (s *Store) WithTxn(ctx context.Context, fn func(txn store.Txn) error) error {
	return s.run(func() error {
		return s.db.WithContext(ctx).Transaction(func(t *gorm.DB) error {
			return fn(t)
		})
	})
}

func (s *Store) CreateJobIfAbsent(ctx context.Context, jobID uuid.UUID, appID string, initialSemaphore int64, entity any, txn store.Txn) (bool, int64, error) {
	db := tx(s.db, txn).WithContext(ctx)
	row := &jobRow{
		ID:           jobID,
		AppID:        appID,
		Semaphore:    initialSemaphore,
		GenerationID: uuid.New(),
	}
	if attrs, ok := entity.(*store.NewJobAttrs); ok && attrs != nil {
		row.ParentJobID = attrs.ParentJobID
	}
	var created bool
	err := s.run(func() error {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if created {
		return true, initialSemaphore, nil
	}
	var existing jobRow
	if err := db.Where("id = ?", jobID).First(&existing).Error; err != nil {
		return false, 0, err
	}
	return false, existing.Semaphore, nil
}

func (s *Store) IncrementLedger(ctx context.Context, jobID uuid.UUID, activityID string, dimensionalAddrs []string, delta int64, txn store.Txn) (int64, error) {
	if len(dimensionalAddrs) == 0 {
		return 0, fmt.Errorf("pgstore: IncrementLedger requires at least one dimensional address")
	}
	db := tx(s.db, txn).WithContext(ctx)
	var self int64
	err := s.run(func() error {
		for i, addr := range dimensionalAddrs {
			row := &activityLedgerRow{
				JobID:           jobID,
				ActivityID:      activityID,
				DimensionalAddr: addr,
				Ledger:          ledger.UnwrittenBaseline + delta,
			}
			if err := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "job_id"}, {Name: "activity_id"}, {Name: "dimensional_addr"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"ledger": gorm.Expr("activity_ledgers.ledger + ?", delta)}),
			}).Create(row).Error; err != nil {
				return err
			}
			if i == 0 {
				var fresh activityLedgerRow
				if err := db.Where("job_id = ? AND activity_id = ? AND dimensional_addr = ?", jobID, activityID, addr).First(&fresh).Error; err != nil {
					return err
				}
				self = fresh.Ledger
			}
		}
		return nil
	})
	return self, err
}

func (s *Store) IncrementGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID, delta int64, txn store.Txn) (int64, error) {
	db := tx(s.db, txn).WithContext(ctx)
	var newValue int64
	err := s.run(func() error {
		row := &guidLedgerRow{JobID: jobID, Guid: guid, Ledger: delta}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "guid"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"ledger": gorm.Expr("guid_ledgers.ledger + ?", delta)}),
		}).Create(row).Error; err != nil {
			return err
		}
		var fresh guidLedgerRow
		if err := db.Where("job_id = ? AND guid = ?", jobID, guid).First(&fresh).Error; err != nil {
			return err
		}
		newValue = fresh.Ledger
		return nil
	})
	return newValue, err
}

func (s *Store) SetStatusAndCollateGuid(ctx context.Context, jobID uuid.UUID, statusDelta int64, threshold int64, guid uuid.UUID, snapshotWeight int64, txn store.Txn) (bool, error) {
	db := tx(s.db, txn).WithContext(ctx)
	var hit bool
	err := s.run(func() error {
		return db.Transaction(func(t *gorm.DB) error {
			if err := t.Model(&jobRow{}).
				Where("id = ?", jobID).
				Update("semaphore", gorm.Expr("semaphore + ?", statusDelta)).Error; err != nil {
				return err
			}
			var row jobRow
			if err := t.Where("id = ?", jobID).First(&row).Error; err != nil {
				return err
			}
			hit = row.Semaphore == threshold
			if !hit {
				return nil
			}
			guidRow := &guidLedgerRow{JobID: jobID, Guid: guid, Ledger: snapshotWeight}
			return t.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "job_id"}, {Name: "guid"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"ledger": gorm.Expr("guid_ledgers.ledger + ?", snapshotWeight)}),
			}).Create(guidRow).Error
		})
	})
	return hit, err
}

func (s *Store) ReadFlatState(ctx context.Context, jobID uuid.UUID, paths []string) (map[string]any, int64, error) {
	var row jobRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	all := flatstateReadAll(row.FlatState)
	if len(paths) == 0 {
		return all, row.Semaphore, nil
	}
	out := map[string]any{}
	for _, p := range paths {
		if v, ok := all[p]; ok {
			out[p] = v
		}
	}
	return out, row.Semaphore, nil
}

func (s *Store) WriteFlatState(ctx context.Context, jobID uuid.UUID, values map[string]any, txn store.Txn) error {
	db := tx(s.db, txn).WithContext(ctx)
	return s.run(func() error {
		var row jobRow
		if err := db.Where("id = ?", jobID).First(&row).Error; err != nil {
			return err
		}
		merged, err := flatstateMerge(row.FlatState, values)
		if err != nil {
			return err
		}
		return db.Model(&jobRow{}).Where("id = ?", jobID).Update("flat_state", merged).Error
	})
}

func (s *Store) ReadLedger(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string) (int64, error) {
	var row activityLedgerRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("job_id = ? AND activity_id = ? AND dimensional_addr = ?", jobID, activityID, dimensionalAddr).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.UnwrittenBaseline, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Ledger, nil
}

func (s *Store) ReadGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID) (int64, error) {
	var row guidLedgerRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("job_id = ? AND guid = ?", jobID, guid).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Ledger, nil
}

func (s *Store) ReadJobGeneration(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	var row jobRow
	err := s.run(func() error {
		return s.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return row.GenerationID, nil
}

func (s *Store) Interrupt(ctx context.Context, jobID uuid.UUID, txn store.Txn) error {
	db := tx(s.db, txn).WithContext(ctx)
	return s.run(func() error {
		return db.Model(&jobRow{}).Where("id = ?", jobID).Update("semaphore", store.InterruptSentinel).Error
	})
}

func (s *Store) CascadeExpire(ctx context.Context, jobID uuid.UUID, at time.Time, txn store.Txn) error {
	db := tx(s.db, txn).WithContext(ctx)
	return s.run(func() error {
		return db.Transaction(func(t *gorm.DB) error {
			if err := t.Model(&jobRow{}).Where("id = ?", jobID).Update("expire_at", at).Error; err != nil {
				return err
			}
			return t.Model(&jobRow{}).Where("parent_job_id = ?", jobID).Update("expire_at", at).Error
		})
	})
}
