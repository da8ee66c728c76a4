package activity

import (
	"time"

	"github.com/meshrun/engine/internal/hook"
)

// HookDoer registers a paused hook activity's webhook topic and/or sleep
// deadline into the durable index during Leg 1 (§4.6). It is the Doer
// wired under workflow.KindHook.
type HookDoer struct {
	Index hook.Index
	Now   func() time.Time
}

func (d HookDoer) Do(ctx *Context) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	reg := hook.Registration{
		JobID:           ctx.Msg.Metadata.JobID,
		ActivityID:      ctx.Msg.Metadata.Aid,
		DimensionalAddr: ctx.Msg.Metadata.Dad,
		Topic:           ctx.Cfg.HookTopic,
		StreamTopic:     ctx.Msg.Metadata.Topic,
	}
	if ctx.Cfg.SleepMillis > 0 {
		deadline := now().Add(time.Duration(ctx.Cfg.SleepMillis) * time.Millisecond)
		reg.Deadline = &deadline
	}
	return d.Index.Register(ctx.Ctx, reg, nil)
}
