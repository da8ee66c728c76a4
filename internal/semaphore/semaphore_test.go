package semaphore

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/store/memstore"
)

func TestEnqueueDelta(t *testing.T) {
	if got := Enqueue(3); got != 2 {
		t.Fatalf("Enqueue(3) = %d, want 2", got)
	}
	if got := Enqueue(1); got != 0 {
		t.Fatalf("Enqueue(1) = %d, want 0", got)
	}
}

func TestApplyFiresThresholdOnce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	jobID := uuid.New()
	guid := uuid.New()

	if _, _, err := s.CreateJobIfAbsent(ctx, jobID, "app-1", 2, nil, nil); err != nil {
		t.Fatal(err)
	}

	res, err := Apply(ctx, s, jobID, -1, 0, guid, nil)
	if err != nil || res.ThresholdHit {
		t.Fatalf("expected no threshold hit yet: %+v err=%v", res, err)
	}

	res, err = Apply(ctx, s, jobID, -1, 0, guid, nil)
	if err != nil || !res.ThresholdHit {
		t.Fatalf("expected threshold hit: %+v err=%v", res, err)
	}

	closed, err := IsClosed(ctx, s, jobID, guid)
	if err != nil || !closed {
		t.Fatalf("expected job closed for guid: closed=%v err=%v", closed, err)
	}
}

func TestIsClosedFalseBeforeCompletion(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	jobID := uuid.New()
	guid := uuid.New()

	if _, _, err := s.CreateJobIfAbsent(ctx, jobID, "app-1", 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	closed, err := IsClosed(ctx, s, jobID, guid)
	if err != nil || closed {
		t.Fatalf("expected not closed: closed=%v err=%v", closed, err)
	}
}
