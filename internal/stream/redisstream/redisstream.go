// Package redisstream binds internal/stream.Transport and
// internal/activity.Publisher to Redis Streams over github.com/redis/go-
// redis/v9, grounded on the teacher's clients/redis/sse_bus.go /
// internal/realtime/bus/redis_bus.go client-construction and logging style
// (env-driven Addr, ping-on-construct, a logger scoped with .With(...)).
// Streams replace that file's Pub/Sub-only channel with XADD/XREADGROUP/
// XAUTOCLAIM/XACK/XDEL consumer-group semantics (§4.7); Pub/Sub is kept for the
// router's quorum throttle/stop control channel, the one place §4.7 asks
// for fan-out-to-all rather than exactly-once delivery.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/platform/logger"
	"github.com/meshrun/engine/internal/store"
	"github.com/meshrun/engine/internal/stream"
)

// Transport is the go-redis v9 binding of stream.Transport.
type Transport struct {
	log *logger.Logger
	rdb *goredis.Client
}

// New pings addr at construction, matching the teacher's SSE bus
// constructors: a Transport that can't reach Redis fails fast rather than
// surfacing the error on the first stream call.
func New(addr string, log *logger.Logger) (*Transport, error) {
	if addr == "" {
		return nil, fmt.Errorf("redisstream: missing addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstream: ping: %w", err)
	}
	return &Transport{log: log.With("component", "redisstream.Transport"), rdb: rdb}, nil
}

// StreamKey names the per (app, topic) stream (§4.7).
func StreamKey(appID, topic string) string {
	return fmt.Sprintf("meshrun:%s:%s", appID, topic)
}

func (t *Transport) Close() error { return t.rdb.Close() }

const fieldPayload = "msg"

func (t *Transport) EnsureGroup(ctx context.Context, streamKey, group string) error {
	err := t.rdb.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && isBusyGroupErr(err) {
		return nil
	}
	return err
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func (t *Transport) Append(ctx context.Context, streamKey string, msg *workflow.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redisstream: marshal message: %w", err)
	}
	return t.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{fieldPayload: raw},
	}).Err()
}

func (t *Transport) ReadGroup(ctx context.Context, streamKey, group, consumer string, block time.Duration) ([]stream.Delivery, error) {
	res, err := t.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    32,
		Block:    block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return decodeStreams(res)
}

func (t *Transport) ClaimIdle(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration) ([]stream.Delivery, error) {
	msgs, _, err := t.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    32,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]stream.Delivery, 0, len(msgs))
	for _, m := range msgs {
		d, err := decodeMessage(streamKey, m)
		if err != nil {
			t.log.Warn("skip undecodable reclaimed entry", "stream", streamKey, "entry", m.ID, "error", err)
			continue
		}
		pending, err := t.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: streamKey, Group: group, Start: m.ID, End: m.ID, Count: 1,
		}).Result()
		if err == nil && len(pending) == 1 {
			d.DeliveryCount = pending[0].RetryCount
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *Transport) Ack(ctx context.Context, streamKey, group, entryID string) error {
	return t.rdb.XAck(ctx, streamKey, group, entryID).Err()
}

func (t *Transport) Delete(ctx context.Context, streamKey, entryID string) error {
	return t.rdb.XDel(ctx, streamKey, entryID).Err()
}

func (t *Transport) PublishControl(ctx context.Context, channel string, cmd stream.ControlCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return t.rdb.Publish(ctx, channel, raw).Err()
}

func (t *Transport) SubscribeControl(ctx context.Context, channel string) (<-chan stream.ControlCommand, error) {
	sub := t.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisstream: subscribe control: %w", err)
	}
	out := make(chan stream.ControlCommand)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var cmd stream.ControlCommand
				if err := json.Unmarshal([]byte(m.Payload), &cmd); err != nil {
					t.log.Warn("bad control payload", "error", err)
					continue
				}
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeStreams(res []goredis.XStream) ([]stream.Delivery, error) {
	var out []stream.Delivery
	for _, s := range res {
		for _, m := range s.Messages {
			d, err := decodeMessage(s.Stream, m)
			if err != nil {
				continue
			}
			d.DeliveryCount = 1
			out = append(out, d)
		}
	}
	return out, nil
}

func decodeMessage(streamKey string, m goredis.XMessage) (stream.Delivery, error) {
	raw, ok := m.Values[fieldPayload]
	if !ok {
		return stream.Delivery{}, fmt.Errorf("redisstream: entry %s missing %q field", m.ID, fieldPayload)
	}
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return stream.Delivery{}, fmt.Errorf("redisstream: entry %s has non-string %q field", m.ID, fieldPayload)
	}
	var msg workflow.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return stream.Delivery{}, fmt.Errorf("redisstream: unmarshal entry %s: %w", m.ID, err)
	}
	return stream.Delivery{StreamKey: streamKey, EntryID: m.ID, Message: &msg}, nil
}

// Publisher implements internal/activity.Publisher by appending to the
// stream named for the message's (appID, topic). A Publisher serves a
// single app namespace per process, matching how the teacher's SSE bus
// binds one channel per constructed client rather than multiplexing many.
type Publisher struct {
	transport *Transport
	appID     string
}

// NewPublisher constructs a Publisher for appID over transport.
func NewPublisher(transport *Transport, appID string) *Publisher {
	return &Publisher{transport: transport, appID: appID}
}

// Publish appends msg to its topic's stream. txn is accepted to satisfy
// activity.Publisher but is not used: the store's transaction and the
// stream append are deliberately NOT atomic with each other (§4.7 "commit
// transaction N times then fail" crash scenarios rely on replay — the
// semaphore/ledger commit is the durability boundary, and a message that
// never reaches the stream because of a crash right here shows up as a
// retry at the upstream Leg 2 step instead).
func (p *Publisher) Publish(ctx context.Context, msg *workflow.Message, _ store.Txn) error {
	key := StreamKey(p.appID, msg.Metadata.Topic)
	return p.transport.Append(ctx, key, msg)
}
