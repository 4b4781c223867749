package fireproof

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/thomasp85/fireproof/internal/audit"
)

// Audit event types emitted by the dispatcher and guards.
const (
	// EventCheck is one guard evaluating one request.
	EventCheck = "guard.check"
	// EventAccess is the flow-level access decision for an endpoint.
	EventAccess = "access.decision"
	// EventRedirect is an OAuth2 authorization redirect being issued.
	EventRedirect = "oauth2.redirect"
	// EventCallback is an OAuth2 callback completing, in either direction.
	EventCallback = "oauth2.callback"
	// EventRefresh is a token refresh attempt.
	EventRefresh = "oauth2.refresh"
	// EventUnknownGuard is a flow referencing a guard name never registered.
	EventUnknownGuard = "flow.unknown_guard"
)

// AuditEvent describes one authentication or authorization decision.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the asynchronous dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel for the host application
// to drain.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// AuditConfig controls the asynchronous audit pipeline.
type AuditConfig struct {
	// Enabled switches auditing on. When false no dispatcher is started
	// and emission is free.
	Enabled bool
	// Sink receives the events. Defaults to [NoOpSink].
	Sink AuditSink
	// BufferSize is the dispatcher's channel capacity. Defaults to 1.
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is
	// full. Dropped counts are reported by [Fireproof.AuditDropped].
	DropIfFull bool
}

// observer is the back-channel guards use to report events and counters to
// their owning dispatcher. Guards that perform out-of-band work (OAuth2
// redirects, callbacks, refreshes) implement bindObserver to receive one.
type observer interface {
	emitEvent(ctx context.Context, event AuditEvent)
	countMetric(id MetricID)
}

// noopObserver stands in before a guard is bound to a dispatcher.
type noopObserver struct{}

func (noopObserver) emitEvent(context.Context, AuditEvent) {}
func (noopObserver) countMetric(MetricID)                  {}

func newEvent(eventType, guard string, success bool) AuditEvent {
	return AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Guard:     guard,
		Success:   success,
	}
}
