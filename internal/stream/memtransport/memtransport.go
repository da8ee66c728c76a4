// Package memtransport is an in-memory fake of stream.Transport for
// router tests, standing in for Redis Streams the way internal/store/
// memstore stands in for Postgres.
package memtransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/stream"
)

type entry struct {
	id       string
	msg      *workflow.Message
	pending  bool
	consumer string
	deliveries int64
	claimedAt time.Time
}

// Transport is the in-memory stream.Transport fake.
type Transport struct {
	mu      sync.Mutex
	nextID  int64
	streams map[string][]*entry
	groups  map[string]map[string]bool // streamKey -> group -> exists
	control chan stream.ControlCommand

	// FailAppend, when true, makes Append return an error — used to
	// exercise the router's "publish error response failed" warning path.
	FailAppend bool
}

// New constructs an empty in-memory transport.
func New() *Transport {
	return &Transport{
		streams: map[string][]*entry{},
		groups:  map[string]map[string]bool{},
		control: make(chan stream.ControlCommand, 16),
	}
}

func (t *Transport) EnsureGroup(ctx context.Context, streamKey, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[streamKey] == nil {
		t.groups[streamKey] = map[string]bool{}
	}
	t.groups[streamKey][group] = true
	return nil
}

func (t *Transport) Append(ctx context.Context, streamKey string, msg *workflow.Message) error {
	if t.FailAppend {
		return fmt.Errorf("memtransport: simulated append failure")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.streams[streamKey] = append(t.streams[streamKey], &entry{
		id:  fmt.Sprintf("%d-0", t.nextID),
		msg: msg,
	})
	return nil
}

// Seed appends a message directly without going through a Publisher, for
// test setup, and returns its entry id.
func (t *Transport) Seed(streamKey string, msg *workflow.Message) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("%d-0", t.nextID)
	t.streams[streamKey] = append(t.streams[streamKey], &entry{id: id, msg: msg})
	return id
}

func (t *Transport) ReadGroup(ctx context.Context, streamKey, group, consumer string, block time.Duration) ([]stream.Delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []stream.Delivery
	for _, e := range t.streams[streamKey] {
		if e.pending {
			continue
		}
		e.pending = true
		e.consumer = consumer
		e.deliveries++
		e.claimedAt = time.Now()
		out = append(out, stream.Delivery{StreamKey: streamKey, EntryID: e.id, Message: e.msg, DeliveryCount: e.deliveries})
	}
	return out, nil
}

func (t *Transport) ClaimIdle(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) ([]stream.Delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []stream.Delivery
	for _, e := range t.streams[streamKey] {
		if !e.pending {
			continue
		}
		if time.Since(e.claimedAt) < minIdle {
			continue
		}
		e.consumer = consumer
		e.deliveries++
		e.claimedAt = time.Now()
		out = append(out, stream.Delivery{StreamKey: streamKey, EntryID: e.id, Message: e.msg, DeliveryCount: e.deliveries})
	}
	return out, nil
}

func (t *Transport) Ack(ctx context.Context, streamKey, group, entryID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.streams[streamKey] {
		if e.id == entryID {
			t.streams[streamKey] = append(t.streams[streamKey][:i], t.streams[streamKey][i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *Transport) Delete(ctx context.Context, streamKey, entryID string) error {
	return t.Ack(ctx, streamKey, "", entryID)
}

func (t *Transport) PublishControl(ctx context.Context, channel string, cmd stream.ControlCommand) error {
	select {
	case t.control <- cmd:
	default:
	}
	return nil
}

func (t *Transport) SubscribeControl(ctx context.Context, channel string) (<-chan stream.ControlCommand, error) {
	return t.control, nil
}

// Pending reports how many entries in streamKey are still unacked, for
// test assertions.
func (t *Transport) Pending(streamKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams[streamKey])
}
