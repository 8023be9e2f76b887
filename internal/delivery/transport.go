package delivery

import (
	"context"

	"github.com/luzzy/message-sync/internal/model"
)

// EventKind tags asynchronous completion events from the transport.
type EventKind int

const (
	// EventSent reports the transport accepted (or failed) one segment.
	EventSent EventKind = iota
	// EventDelivered reports the delivery report for the final segment.
	EventDelivered
)

// SegmentEvent is one asynchronous completion callback, modeled as a
// channel message per in-flight segment instead of an implicit broadcast.
type SegmentEvent struct {
	Segment  int // zero-based index
	Segments int // total segment count of the operation
	Kind     EventKind
	Err      error // nil on success
}

// MultipartRequest submits one logical message as a single multi-segment
// transport operation. Partial failures are attributed to this one
// operation, never to N independent sends.
type MultipartRequest struct {
	Destination           string
	SubscriptionID        int
	Segments              []string
	RequireDeliveryReport bool
}

// AttachmentRequest is the attachment-capable path: media, long bodies
// routed as attachments, or group sends.
type AttachmentRequest struct {
	Destinations   []string
	SubscriptionID int
	Body           string
	Attachments    []model.Attachment
}

// Subscription describes one available SIM.
type Subscription struct {
	Index  int // display slot, zero-based
	ID     int // opaque subscription id
	Label  string
	Number string
}

// Transport is the telephony boundary. Implementations must not block on
// event delivery: the returned channel is buffered for the whole operation
// and closed after the last event.
type Transport interface {
	// DivideMessage splits a body by the transport's length accounting.
	DivideMessage(body string) []string

	// SendMultipart submits all segments as one operation and returns the
	// event stream for it. An error return means nothing was submitted.
	SendMultipart(ctx context.Context, req MultipartRequest) (<-chan SegmentEvent, error)

	// SendAttachment submits via the attachment-capable path. The event
	// stream carries a single logical segment.
	SendAttachment(ctx context.Context, req AttachmentRequest) (<-chan SegmentEvent, error)

	// Subscriptions lists the active SIMs, in slot order.
	Subscriptions() []Subscription

	// DefaultSubscription is the system default SIM id, or
	// model.SubscriptionUnknown when the platform has none configured.
	DefaultSubscription() int
}
