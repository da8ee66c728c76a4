// Package graph holds the compiled graph configuration (§6 "Graph
// compilation input"): the static map of activity configurations and their
// outgoing transitions that the activity state machine evaluates at Leg 2
// Step 2. Compilation itself (parsing a YAML/DSL source) is out of scope
// (§1); this package only shapes and validates the compiled result.
package graph

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/meshrun/engine/internal/domain/workflow"
)

var validate = validator.New()

// Transition is one outgoing edge from an activity: a named target plus
// the expression text the engine evaluates against context to decide
// whether to fire it (§4.5). Expression evaluation itself is delegated to
// the internal/expr interface — this type only carries the compiled rule.
type Transition struct {
	Target     string `json:"target" validate:"required"`
	Expression string `json:"expression"`
}

// ActivityConfig is one compiled node (§6).
type ActivityConfig struct {
	ID          string                 `json:"id" validate:"required"`
	Kind        workflow.Kind          `json:"type" validate:"required"`
	Subtype     workflow.SignalSubtype `json:"subtype,omitempty"`
	Subscribes  string                 `json:"subscribes,omitempty"`
	Ancestors   []string               `json:"ancestors"`
	Consumes    map[string][]string    `json:"consumes,omitempty"`
	Produces    []string               `json:"produces,omitempty"`
	Cyclic      bool                   `json:"cyclic,omitempty"`
	RetryMax    int                    `json:"retry_max,omitempty"`
	HookTopic   string                 `json:"hook_topic,omitempty"`
	SleepMillis int64                  `json:"sleep_millis,omitempty"`
}

// Graph is a fully compiled workflow definition: every activity config plus
// the adjacency list used at Leg 2 Step 2.
type Graph struct {
	ID          string
	Activities  map[string]*ActivityConfig
	Transitions map[string][]Transition // source activity id -> outgoing edges
}

// Validate enforces the §6 compiler invariant ("rejects graphs without
// exactly one trigger") plus per-field struct tags.
func (g *Graph) Validate() error {
	triggers := 0
	for id, cfg := range g.Activities {
		if err := validate.Struct(cfg); err != nil {
			return fmt.Errorf("graph %s: activity %s: %w", g.ID, id, err)
		}
		if cfg.Kind == workflow.KindTrigger {
			triggers++
		}
	}
	if triggers != 1 {
		return fmt.Errorf("graph %s: expected exactly one trigger activity, found %d", g.ID, triggers)
	}
	return nil
}

// Outgoing returns the compiled transitions leaving activityID, or nil if
// it has none.
func (g *Graph) Outgoing(activityID string) []Transition {
	return g.Transitions[activityID]
}

// Activity looks up a single activity's compiled config.
func (g *Graph) Activity(activityID string) (*ActivityConfig, bool) {
	cfg, ok := g.Activities[activityID]
	return cfg, ok
}

// Trigger returns the graph's unique trigger activity config.
func (g *Graph) Trigger() (*ActivityConfig, error) {
	for _, cfg := range g.Activities {
		if cfg.Kind == workflow.KindTrigger {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("graph %s: no trigger activity compiled", g.ID)
}
