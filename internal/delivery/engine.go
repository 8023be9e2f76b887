package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/prom"
)

var (
	// ErrEmptyDestination is a user-input error, surfaced immediately.
	ErrEmptyDestination = errors.New("empty destination address")
	// ErrPersistence means the outbound message could not be saved.
	ErrPersistence = errors.New("unable to save message")
	// ErrTransportSend means the transport rejected the whole operation.
	ErrTransportSend = errors.New("error sending message")
)

// MessageStore is the slice of the repository the engine needs.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, id int64) (*model.Message, error)
	UpdateStatus(ctx context.Context, id int64, status model.MessageStatus) error
	UpdateSubscription(ctx context.Context, id int64, subID int) error
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Message, error)
	PromoteScheduled(ctx context.Context, id int64) error
}

// ConversationStore resolves threads and maintains last-message pointers.
type ConversationStore interface {
	Ensure(ctx context.Context, addresses []string) (*model.Conversation, error)
	TouchLastMessage(ctx context.Context, threadID int64, messageID int64, date int64) error
}

// Notifier surfaces delivery failures to the user.
type Notifier interface {
	SendFailed(messageID int64, address string, reason string)
}

// Options mirror the user's messaging settings.
type Options struct {
	DeliveryReports    bool
	SendLongAsMMS      bool
	SendLongAsMMSAfter int // segment count above which a long body goes as attachment
	SendGroupAsMMS     bool
}

// Engine turns a send request into transport operations and reconciles
// the asynchronous sent/delivered events into message delivery state.
type Engine struct {
	messages      MessageStore
	conversations ConversationStore
	transport     Transport
	selector      *SimSelector
	notifier      Notifier
	opts          Options

	wg sync.WaitGroup
}

func NewEngine(messages MessageStore, conversations ConversationStore, transport Transport, selector *SimSelector, notifier Notifier, opts Options) *Engine {
	if opts.SendLongAsMMSAfter <= 0 {
		opts.SendLongAsMMSAfter = 1
	}
	return &Engine{
		messages:      messages,
		conversations: conversations,
		transport:     transport,
		selector:      selector,
		notifier:      notifier,
		opts:          opts,
	}
}

// Send validates, persists and dispatches one logical outbound message.
// The returned message is in the queued state; sent/delivered/failed land
// asynchronously as transport events arrive. Scheduled requests persist
// and return without touching the transport.
func (e *Engine) Send(ctx context.Context, req model.SendRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyDestination, err)
	}
	addresses := model.NormalizeAddresses(req.Addresses)
	if len(addresses) == 0 {
		return nil, ErrEmptyDestination
	}

	conv, err := e.conversations.Ensure(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := time.Now()
	subID := req.SubscriptionID
	if subID == 0 || subID == model.SubscriptionUnknown {
		subID = e.selector.Select(ctx, addresses[0])
	}

	msg := &model.Message{
		ThreadID:       conv.ThreadID,
		Address:        addresses[0],
		Direction:      model.DirectionOutbound,
		Body:           req.Body,
		Date:           now.Unix(),
		DateMs:         now.UnixMilli(),
		Status:         model.MessageStatusQueued,
		SubscriptionID: subID,
		Read:           true,
		Attachments:    req.Attachments,
	}
	if req.ScheduledAt > now.Unix() {
		msg.Scheduled = true
		msg.SendAt = req.ScheduledAt
	}

	created, err := e.messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	created.Attachments = req.Attachments

	if err := e.conversations.TouchLastMessage(ctx, conv.ThreadID, created.ID, created.Date); err != nil {
		logger.Warn("failed to update last message pointer", "thread_id", conv.ThreadID, "error", err)
	}

	if created.Scheduled {
		logger.Info("message scheduled", "message_id", created.ID, "send_at", created.SendAt)
		return created, nil
	}

	if err := e.dispatch(ctx, created, addresses); err != nil {
		return nil, err
	}
	return created, nil
}

// dispatch routes one persisted message through the attachment-capable or
// plain-text path and starts event reconciliation.
func (e *Engine) dispatch(ctx context.Context, msg *model.Message, addresses []string) error {
	segments := e.transport.DivideMessage(msg.Body)

	useAttachmentPath := len(msg.Attachments) > 0 ||
		(e.opts.SendLongAsMMS && len(segments) > e.opts.SendLongAsMMSAfter) ||
		(e.opts.SendGroupAsMMS && len(addresses) > 1)

	if useAttachmentPath {
		events, err := e.transport.SendAttachment(ctx, AttachmentRequest{
			Destinations:   addresses,
			SubscriptionID: msg.SubscriptionID,
			Body:           msg.Body,
			Attachments:    msg.Attachments,
		})
		if err != nil {
			return e.failSubmit(ctx, msg, err)
		}
		e.reconcileAsync(msg.ID, msg.Address, events)
		return nil
	}

	if len(segments) == 0 {
		return e.failSubmit(ctx, msg, errors.New("transport produced no segments"))
	}

	// One multipart operation per destination; the plain path normally has
	// exactly one.
	for _, address := range addresses {
		events, err := e.transport.SendMultipart(ctx, MultipartRequest{
			Destination:           address,
			SubscriptionID:        msg.SubscriptionID,
			Segments:              segments,
			RequireDeliveryReport: e.opts.DeliveryReports,
		})
		if err != nil {
			return e.failSubmit(ctx, msg, err)
		}
		e.reconcileAsync(msg.ID, address, events)
	}
	return nil
}

func (e *Engine) failSubmit(ctx context.Context, msg *model.Message, cause error) error {
	if err := e.messages.UpdateStatus(ctx, msg.ID, model.MessageStatusFailed); err != nil {
		logger.Error("failed to record send failure", "message_id", msg.ID, "error", err)
	}
	if e.notifier != nil {
		e.notifier.SendFailed(msg.ID, msg.Address, cause.Error())
	}
	prom.IncDeliveryOutcome("failed")
	logger.Error("transport rejected send", "message_id", msg.ID, "address", msg.Address, "error", cause)
	return fmt.Errorf("%w: %v", ErrTransportSend, cause)
}

func (e *Engine) reconcileAsync(messageID int64, address string, events <-chan SegmentEvent) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconcile(messageID, address, events)
	}()
}

// reconcile consumes the event stream of one transport operation and
// applies each segment's result exactly once. The message shows SENT only
// when the final segment's sent event reports success, and DELIVERED only
// when the delivery report confirms it.
func (e *Engine) reconcile(messageID int64, address string, events <-chan SegmentEvent) {
	ctx := context.Background()
	sentSeen := make(map[int]bool)
	deliveredSeen := false
	failed := false

	for ev := range events {
		switch ev.Kind {
		case EventSent:
			if sentSeen[ev.Segment] {
				logger.Warn("duplicate sent event ignored", "message_id", messageID, "segment", ev.Segment)
				continue
			}
			sentSeen[ev.Segment] = true

			if ev.Err != nil {
				failed = true
				prom.IncDeliveryOutcome("failed")
				if err := e.messages.UpdateStatus(ctx, messageID, model.MessageStatusFailed); err != nil {
					logger.Error("failed to record segment failure", "message_id", messageID, "error", err)
				}
				if e.notifier != nil {
					e.notifier.SendFailed(messageID, address, ev.Err.Error())
				}
				continue
			}

			if ev.Segment == ev.Segments-1 && !failed {
				prom.IncDeliveryOutcome("sent")
				if err := e.messages.UpdateStatus(ctx, messageID, model.MessageStatusSent); err != nil {
					logger.Error("failed to record sent state", "message_id", messageID, "error", err)
				}
			}

		case EventDelivered:
			if deliveredSeen {
				logger.Warn("duplicate delivered event ignored", "message_id", messageID)
				continue
			}
			deliveredSeen = true

			if ev.Err != nil {
				logger.Warn("delivery report failed", "message_id", messageID, "error", ev.Err)
				continue
			}
			prom.IncDeliveryOutcome("delivered")
			if err := e.messages.UpdateStatus(ctx, messageID, model.MessageStatusDelivered); err != nil {
				logger.Error("failed to record delivered state", "message_id", messageID, "error", err)
			}
		}
	}
}

// PromoteDue moves every scheduled message whose send-at elapsed into the
// normal delivery path. Messages cancelled between listing and promotion
// are skipped.
func (e *Engine) PromoteDue(ctx context.Context, now time.Time) error {
	due, err := e.messages.ListDueScheduled(ctx, now)
	if err != nil {
		return err
	}
	for _, msg := range due {
		if err := e.messages.PromoteScheduled(ctx, msg.ID); err != nil {
			logger.Info("scheduled message gone before promotion", "message_id", msg.ID)
			continue
		}
		if err := e.dispatch(ctx, msg, []string{msg.Address}); err != nil {
			logger.Error("failed to dispatch scheduled message", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// RunScheduledSweep promotes due scheduled messages on an interval until
// the context ends.
func (e *Engine) RunScheduledSweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := e.PromoteDue(ctx, now); err != nil {
				logger.Error("scheduled sweep failed", "error", err)
			}
		}
	}
}

// Wait blocks until every in-flight reconciliation finishes. Shutdown and
// test aid.
func (e *Engine) Wait() {
	e.wg.Wait()
}
