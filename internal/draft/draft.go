// Package draft persists message bodies as conversation drafts instead of
// handing them to the delivery engine, and raises a notification so the
// user can find the text again.
package draft

import (
	"context"
	"strings"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/repository"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/pkg/errors"
)

var ErrEmptyDraft = errors.New("draft: empty body")

// ConversationStore is the slice of the conversation repository the saver
// needs.
type ConversationStore interface {
	Ensure(ctx context.Context, addresses []string) (*model.Conversation, error)
	SaveDraft(ctx context.Context, threadID int64, body string) error
	ClearDraft(ctx context.Context, threadID int64) error
}

// Notifier raises a user-visible notification pointing at the saved draft.
type Notifier interface {
	DraftSaved(threadID int64, address, body string)
}

type Saver struct {
	conversations ConversationStore
	notifier      Notifier
}

func NewSaver(conversations ConversationStore, notifier Notifier) *Saver {
	return &Saver{conversations: conversations, notifier: notifier}
}

// Save resolves the conversation for the recipients and stores the body as
// its draft, last write wins. A recipient set that cannot be resolved to a
// conversation abandons the draft: the text is logged and dropped rather
// than attached to a wrong thread.
func (s *Saver) Save(ctx context.Context, addresses []string, body string) (*model.Conversation, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyDraft
	}

	conv, err := s.conversations.Ensure(ctx, addresses)
	if err != nil {
		if errors.Is(err, repository.ErrUnresolvableThread) {
			logger.Warn("draft abandoned, recipients unresolvable", "addresses", strings.Join(addresses, ","))
			return nil, err
		}
		return nil, errors.Wrap(err, "resolve conversation for draft")
	}

	if err := s.conversations.SaveDraft(ctx, conv.ThreadID, body); err != nil {
		return nil, errors.Wrap(err, "save draft")
	}
	logger.Info("draft saved", "thread_id", conv.ThreadID)

	if s.notifier != nil {
		address := ""
		if len(addresses) > 0 {
			address = model.NormalizeAddress(addresses[0])
		}
		s.notifier.DraftSaved(conv.ThreadID, address, body)
	}
	return conv, nil
}

// Clear removes the draft from a conversation, typically after the user
// sends or discards it.
func (s *Saver) Clear(ctx context.Context, threadID int64) error {
	return s.conversations.ClearDraft(ctx, threadID)
}
