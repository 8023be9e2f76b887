package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
)

// Capturer is notified of every persisted inbound message so the sync
// upload worker can mirror it to the backend.
type Capturer interface {
	Capture(msg *model.Message)
}

// Receiver is the inbound half of the transport boundary: it persists
// received messages, maintains the conversation pointer and hands the
// message to the capture hook.
type Receiver struct {
	messages      MessageStore
	conversations ConversationStore
	capture       Capturer
}

func NewReceiver(messages MessageStore, conversations ConversationStore, capture Capturer) *Receiver {
	return &Receiver{
		messages:      messages,
		conversations: conversations,
		capture:       capture,
	}
}

// Receive records one inbound message. The message lands unread; the
// conversation window marks it read when it is actually displayed.
func (r *Receiver) Receive(ctx context.Context, from, body string, subID int, at time.Time) (*model.Message, error) {
	address := model.NormalizeAddress(from)
	if address == "" {
		return nil, ErrEmptyDestination
	}

	conv, err := r.conversations.Ensure(ctx, []string{address})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	msg := &model.Message{
		ThreadID:       conv.ThreadID,
		Address:        address,
		Direction:      model.DirectionInbound,
		Body:           body,
		Date:           at.Unix(),
		DateMs:         at.UnixMilli(),
		Status:         model.MessageStatusDelivered,
		SubscriptionID: subID,
	}

	created, err := r.messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := r.conversations.TouchLastMessage(ctx, conv.ThreadID, created.ID, created.Date); err != nil {
		logger.Warn("failed to update last message pointer", "thread_id", conv.ThreadID, "error", err)
	}

	if r.capture != nil {
		r.capture.Capture(created)
	}
	return created, nil
}
