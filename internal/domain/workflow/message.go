package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/dimension"
)

// MessageType distinguishes the three wire-level transition message kinds
// (§6).
type MessageType string

const (
	MessageTransition MessageType = "TRANSITION"
	MessageAwait      MessageType = "AWAIT"
	MessageResponse   MessageType = "RESPONSE"
)

// ResponseStatus is carried in RESPONSE payloads (§7 propagation).
type ResponseStatus string

const (
	ResponseOK    ResponseStatus = "success"
	ResponseError ResponseStatus = "error"
)

// RetryPolicy bounds local stream-level retries for a transition (§4.7).
type RetryPolicy struct {
	MaxLocalRetries int `json:"max_local_retries,omitempty"`
}

// Leg distinguishes which half of the two-leg protocol a TRANSITION message
// dispatches into (§4.4): the router needs this to route a dequeued message
// to Machine.HandleLeg1 or Machine.HandleLeg2 without first touching the
// store.
type Leg int

const (
	// Leg1 targets a dimensional address not yet entered: a fan-out child
	// or a cycle re-entry at a fresh address.
	Leg1 Leg = 1
	// Leg2 continues an invocation whose Leg 1 already ran: the
	// self-published continuation, or a signal/hook wake delivered to an
	// already-registered paused activity.
	Leg2 Leg = 2
)

func (l Leg) String() string {
	switch l {
	case Leg1:
		return "leg1"
	case Leg2:
		return "leg2"
	default:
		return "leg0"
	}
}

// Metadata is the wire-level metadata envelope (§6):
// {guid, jid, gid, dad, aid, topic?, spn?, trc?}, plus an internal `leg`
// routing tag (§4.7 SUPPLEMENT — the wire fields named by §6 are unchanged).
type Metadata struct {
	Guid  uuid.UUID `json:"guid"`
	JobID uuid.UUID `json:"jid"`
	GenID uuid.UUID `json:"gid"`
	Dad   string    `json:"dad"` // source dimensional address
	Aid   string    `json:"aid"` // target activity id
	Topic string    `json:"topic,omitempty"`
	Span  string    `json:"spn,omitempty"`
	Trace string    `json:"trc,omitempty"`
	Leg   Leg       `json:"leg"`
}

// Message is a unit of work appended to a stream (§3, §6).
type Message struct {
	Metadata Metadata        `json:"metadata"`
	Type     MessageType      `json:"type"`
	Data     json.RawMessage  `json:"data,omitempty"`
	Policies *RetryPolicy     `json:"policies,omitempty"`
}

// Address parses the source dimensional address carried on the message.
func (m *Message) Address() dimension.Address {
	return dimension.Parse(m.Metadata.Dad)
}

// ErrorPayload is the §7 shape for RESPONSE error data.
type ErrorPayload struct {
	Status ResponseStatus `json:"status"`
	Code   int            `json:"code"`
	Data   struct {
		Message string `json:"message"`
		Stack   string `json:"stack,omitempty"`
	} `json:"data"`
}

// Wire error codes (§6, stable).
const (
	CodeSuccess            = 200
	CodePending            = 202
	CodeNotFound           = 404
	CodeInterrupted        = 410
	CodeSleep              = 588
	CodeWaitAll            = 589
	CodeChild              = 590
	CodeProxy              = 591
	CodeIncompleteSignal   = 593
	CodeWaitForSet         = 594
	CodeWait               = 595
	CodeTimeout            = 596
	CodeMaxedRetries       = 597
	CodeFatal              = 598
	CodeRetryable          = 599
	CodeUnackedDeadLetter  = 999
)

// IsRetryable reports whether a wire error code is the router's
// locally-retried class (§4.7 "retryable error codes").
func IsRetryable(code int) bool { return code == CodeRetryable }

// WireError tags a Go error with a stable wire code (§6) so the stream
// router can classify a handler failure without string-matching it.
// Activity doers that know a failure is transient (a downstream timeout, a
// lock contention error) should wrap it with NewWireError(CodeRetryable,
// err); everything else defaults to fatal at the router.
type WireError struct {
	Code int
	Err  error
}

func (e *WireError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("workflow: wire error %d", e.Code)
	}
	return fmt.Sprintf("workflow: wire error %d: %s", e.Code, e.Err.Error())
}

func (e *WireError) Unwrap() error { return e.Err }

// NewWireError wraps err with code; the code is kept as given.
func NewWireError(code int, err error) *WireError {
	return &WireError{Code: code, Err: err}
}

// ErrorCode extracts the wire code carried by err, if any was attached via
// NewWireError. ok is false for a plain, unclassified error.
func ErrorCode(err error) (code int, ok bool) {
	var we *WireError
	if errors.As(err, &we) {
		return we.Code, true
	}
	return 0, false
}
