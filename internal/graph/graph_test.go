package graph

import (
	"testing"

	"github.com/meshrun/engine/internal/domain/workflow"
)

func TestValidateRequiresExactlyOneTrigger(t *testing.T) {
	g := &Graph{
		ID: "g1",
		Activities: map[string]*ActivityConfig{
			"t1": {ID: "t1", Kind: workflow.KindTrigger},
			"a1": {ID: "a1", Kind: workflow.KindWorker},
		},
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}

	g.Activities["t2"] = &ActivityConfig{ID: "t2", Kind: workflow.KindTrigger}
	if err := g.Validate(); err == nil {
		t.Fatal("expected error with two triggers")
	}
}

func TestOutgoingAndTrigger(t *testing.T) {
	g := &Graph{
		ID: "g1",
		Activities: map[string]*ActivityConfig{
			"t1": {ID: "t1", Kind: workflow.KindTrigger},
			"a1": {ID: "a1", Kind: workflow.KindWorker},
		},
		Transitions: map[string][]Transition{
			"t1": {{Target: "a1", Expression: "true"}},
		},
	}
	trig, err := g.Trigger()
	if err != nil || trig.ID != "t1" {
		t.Fatalf("expected t1 as trigger, got %+v err=%v", trig, err)
	}
	out := g.Outgoing("t1")
	if len(out) != 1 || out[0].Target != "a1" {
		t.Fatalf("expected one outgoing edge to a1, got %+v", out)
	}
}
