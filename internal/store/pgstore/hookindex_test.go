package pgstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/engine/internal/hook"
)

func TestRegisterUpsertsOnNaturalKey(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "workflow_hooks"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Register(context.Background(), hook.Registration{
		JobID:           jobID,
		ActivityID:      "wait-for-approval",
		DimensionalAddr: "0",
		Topic:           "approval.granted",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchTopicReturnsWaitingRegistrations(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "workflow_hooks" WHERE job_id = $1 AND topic = $2`)).
		WithArgs(jobID, "approval.granted").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "activity_id", "dimensional_addr", "topic"}).
			AddRow(jobID, "wait-for-approval", "0", "approval.granted"))

	regs, err := s.MatchTopic(context.Background(), jobID, "approval.granted")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, "wait-for-approval", regs[0].ActivityID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueSleepsFiltersByDeadline(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()
	deadline := time.Now().Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "workflow_hooks" WHERE deadline IS NOT NULL AND deadline <= $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "activity_id", "dimensional_addr", "deadline"}).
			AddRow(jobID, "sleep-step", "0", deadline))

	regs, err := s.DueSleeps(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].Deadline)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveDeletesByNaturalKey(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "workflow_hooks" WHERE job_id = $1 AND activity_id = $2 AND dimensional_addr = $3`)).
		WithArgs(jobID, "wait-for-approval", "0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Remove(context.Background(), jobID, "wait-for-approval", "0", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
