// Package stream implements the §4.7 router: per (app, topic) a named
// stream, consumer-group claiming, idle-message reclaim, delivery-count
// dead-lettering, bounded local retry, and quorum throttle/stop control.
// Transport abstracts the backing broker so the router's policy logic is
// testable without Redis; internal/stream/redisstream is the production
// binding over go-redis v9 Streams.
package stream

import (
	"context"
	"time"

	"github.com/meshrun/engine/internal/domain/workflow"
)

// Delivery is one claimed stream entry, fresh or reclaimed.
type Delivery struct {
	StreamKey     string
	EntryID       string
	Message       *workflow.Message
	DeliveryCount int64
}

// ControlKind is a quorum pub/sub command a router publishes to its peers
// (§4.7 "throttle/stop commands").
type ControlKind string

const (
	ControlThrottle ControlKind = "throttle"
	ControlStop     ControlKind = "stop"
)

// ControlCommand is one message on the control channel.
type ControlCommand struct {
	Kind  ControlKind
	Group string
}

// Transport is the broker binding the router drives. EnsureGroup must be
// idempotent (§4.7 "creates the group on demand").
type Transport interface {
	EnsureGroup(ctx context.Context, streamKey, group string) error
	Append(ctx context.Context, streamKey string, msg *workflow.Message) error
	ReadGroup(ctx context.Context, streamKey, group, consumer string, block time.Duration) ([]Delivery, error)
	ClaimIdle(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, streamKey, group, entryID string) error
	Delete(ctx context.Context, streamKey, entryID string) error

	PublishControl(ctx context.Context, channel string, cmd ControlCommand) error
	SubscribeControl(ctx context.Context, channel string) (<-chan ControlCommand, error)
}

// Handler processes one dequeued message. internal/activity.Machine
// implements this via its Handle method.
type Handler interface {
	Handle(ctx context.Context, msg *workflow.Message) error
}
