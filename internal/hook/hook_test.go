package hook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRegisterAndMatchTopic(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()
	jobID := uuid.New()

	if err := idx.Register(ctx, Registration{JobID: jobID, ActivityID: "a1", Topic: "T"}, nil); err != nil {
		t.Fatal(err)
	}
	matches, err := idx.MatchTopic(ctx, jobID, "T")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one match, got %v err=%v", matches, err)
	}
}

func TestDueSleeps(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()
	jobID := uuid.New()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	idx.Register(ctx, Registration{JobID: jobID, ActivityID: "a1", Deadline: &past}, nil)
	idx.Register(ctx, Registration{JobID: jobID, ActivityID: "a2", Deadline: &future}, nil)

	due, err := idx.DueSleeps(ctx, time.Now())
	if err != nil || len(due) != 1 || due[0].ActivityID != "a1" {
		t.Fatalf("expected only a1 due, got %v err=%v", due, err)
	}
}

func TestSignalAllPartialSuccess(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()
	jobID := uuid.New()
	idx.Register(ctx, Registration{JobID: jobID, ActivityID: "ok", Topic: "T"}, nil)
	idx.Register(ctx, Registration{JobID: jobID, ActivityID: "bad", Topic: "T"}, nil)

	results, err := SignalAll(ctx, idx, func(ctx context.Context, reg Registration) error {
		if reg.ActivityID == "bad" {
			return errors.New("delivery failed")
		}
		return nil
	}, jobID, "T")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	var okCount, errCount int
	for _, r := range results {
		if r.Delivered {
			okCount++
		} else {
			errCount++
		}
	}
	if okCount != 1 || errCount != 1 {
		t.Fatalf("expected one success and one failure, got ok=%d err=%d", okCount, errCount)
	}
	for _, r := range results {
		if r.Target.ActivityID == "bad" && r.Err != "delivery failed" {
			t.Fatalf("expected bad target's Err to carry the delivery error string, got %q", r.Err)
		}
	}
}
