package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/platform/logger"
	"github.com/meshrun/engine/internal/stream/memtransport"
)

// stubHandler replays a canned sequence of errors, one per call, then nil
// forever after the sequence is exhausted.
type stubHandler struct {
	errs  []error
	calls int
}

func (h *stubHandler) Handle(ctx context.Context, msg *workflow.Message) error {
	var err error
	if h.calls < len(h.errs) {
		err = h.errs[h.calls]
	}
	h.calls++
	return err
}

func newTestRouter(t *testing.T, handler Handler, cfg Config) (*Router, *memtransport.Transport) {
	t.Helper()
	transport := memtransport.New()
	log, err := logger.New("development")
	require.NoError(t, err)
	cfg.Group = "g1"
	cfg.Consumer = "c1"
	return New(transport, handler, log, nil, cfg), transport
}

func newDelivery(streamKey, entryID string, deliveryCount int64) Delivery {
	return Delivery{
		StreamKey:     streamKey,
		EntryID:       entryID,
		DeliveryCount: deliveryCount,
		Message: &workflow.Message{
			Metadata: workflow.Metadata{
				Guid:  uuid.New(),
				JobID: uuid.New(),
				Dad:   "0",
				Aid:   "a1",
				Topic: "t1",
				Leg:   workflow.Leg1,
			},
			Type: workflow.MessageTransition,
		},
	}
}

func TestProcessAcksOnSuccess(t *testing.T) {
	handler := &stubHandler{}
	router, transport := newTestRouter(t, handler, Config{})
	streamKey := "s1"
	entryID := transport.Seed(streamKey, &workflow.Message{Metadata: workflow.Metadata{Dad: "0", Aid: "a1"}})

	router.process(context.Background(), newDelivery(streamKey, entryID, 1))

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, transport.Pending(streamKey))
}

func TestProcessDeadLettersWhenDeliveryCountExceedsCap(t *testing.T) {
	handler := &stubHandler{}
	router, transport := newTestRouter(t, handler, Config{ReclaimCount: 2})
	streamKey := "s1"
	entryID := transport.Seed(streamKey, &workflow.Message{Metadata: workflow.Metadata{Dad: "0", Aid: "a1"}})

	router.process(context.Background(), newDelivery(streamKey, entryID, 3))

	require.Equal(t, 0, handler.calls, "dead-lettered deliveries must never reach the handler")
	require.Equal(t, 1, transport.Pending(streamKey), "dead-lettered entry is acked and deleted; only the published error response remains")
}

func TestRunWithLocalRetryRetriesRetryableThenSucceeds(t *testing.T) {
	handler := &stubHandler{errs: []error{workflow.NewWireError(workflow.CodeRetryable, errors.New("transient"))}}
	router, _ := newTestRouter(t, handler, Config{MaxLocalRetries: 1})

	err := router.runWithLocalRetry(context.Background(), newDelivery("s1", "1-0", 1))

	require.NoError(t, err)
	require.Equal(t, 2, handler.calls, "one failure then one successful retry")
}

func TestProcessPublishesMaxedRetriesAfterRetryBudgetExhausted(t *testing.T) {
	wireErr := workflow.NewWireError(workflow.CodeRetryable, errors.New("still transient"))
	handler := &stubHandler{errs: []error{wireErr, wireErr}}
	router, transport := newTestRouter(t, handler, Config{MaxLocalRetries: 1})
	streamKey := "s1"
	entryID := transport.Seed(streamKey, &workflow.Message{Metadata: workflow.Metadata{Dad: "0", Aid: "a1"}})

	router.process(context.Background(), newDelivery(streamKey, entryID, 1))

	require.Equal(t, 2, handler.calls, "one initial attempt plus one retry, then the budget is spent")
	require.Equal(t, 1, transport.Pending(streamKey), "exhausted delivery is still acked, not redelivered forever; only the published error response remains")

	resp := lastPublished(t, transport, streamKey)
	require.Equal(t, workflow.MessageResponse, resp.Type)
	var payload workflow.ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Data, &payload))
	require.Equal(t, workflow.CodeMaxedRetries, payload.Code)
}

func TestProcessPublishesFatalWithoutRetryingNonRetryableError(t *testing.T) {
	handler := &stubHandler{errs: []error{errors.New("boom")}}
	router, transport := newTestRouter(t, handler, Config{MaxLocalRetries: 3})
	streamKey := "s1"
	entryID := transport.Seed(streamKey, &workflow.Message{Metadata: workflow.Metadata{Dad: "0", Aid: "a1"}})

	router.process(context.Background(), newDelivery(streamKey, entryID, 1))

	require.Equal(t, 1, handler.calls, "a non-retryable error must not spend the local retry budget")

	resp := lastPublished(t, transport, streamKey)
	var payload workflow.ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Data, &payload))
	require.Equal(t, workflow.CodeFatal, payload.Code)
}

func TestStopHaltsRun(t *testing.T) {
	handler := &stubHandler{}
	router, transport := newTestRouter(t, handler, Config{})
	_ = transport.EnsureGroup(context.Background(), "s1", "g1")

	router.Stop()
	err := router.Run(context.Background(), []string{"s1"})
	require.NoError(t, err)
}

// lastPublished reads back the sole remaining entry on streamKey after the
// original delivery has been acked — in these tests, the router's own
// published error response.
func lastPublished(t *testing.T, transport *memtransport.Transport, streamKey string) *workflow.Message {
	t.Helper()
	deliveries, err := transport.ReadGroup(context.Background(), streamKey, "g1", "reader", 0)
	require.NoError(t, err)
	require.NotEmpty(t, deliveries)
	return deliveries[len(deliveries)-1].Message
}
