package services

import (
	"context"
	"errors"
	"sync"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/notify"
	"github.com/luzzy/message-sync/internal/window"
)

var (
	ErrUnknownThread = errors.New("unknown thread")
	ErrInvalidMode   = errors.New("invalid send mode")
)

// Sender is the outbound delivery engine surface.
type Sender interface {
	Send(ctx context.Context, req model.SendRequest) (*model.Message, error)
}

// DraftSaver persists a body as a conversation draft.
type DraftSaver interface {
	Save(ctx context.Context, addresses []string, body string) (*model.Conversation, error)
	Clear(ctx context.Context, threadID int64) error
}

// ModeStore is the send-mode policy surface.
type ModeStore interface {
	Get(threadID int64) model.SendMode
	Set(threadID int64, mode model.SendMode)
	Toggle(threadID int64) model.SendMode
}

// ConversationStore is the slice of the conversation repository the
// service reads.
type ConversationStore interface {
	Get(ctx context.Context, threadID int64) (*model.Conversation, error)
	List(ctx context.Context, includeArchived bool) ([]*model.Conversation, error)
	SetArchived(ctx context.Context, threadID int64, archived bool) error
}

// ThreadService backs the local control API: sending, browsing threads,
// toggling send modes, and reading projected thread items. Window managers
// are created per thread on first access and reused.
type ThreadService struct {
	sender        Sender
	drafts        DraftSaver
	modes         ModeStore
	conversations ConversationStore
	notifications *notify.Center

	windowStore window.MessageStore
	windowOpts  window.Options

	mu      sync.Mutex
	windows map[int64]*window.Manager
}

func NewThreadService(
	sender Sender,
	drafts DraftSaver,
	modes ModeStore,
	conversations ConversationStore,
	notifications *notify.Center,
	windowStore window.MessageStore,
	windowOpts window.Options,
) *ThreadService {
	return &ThreadService{
		sender:        sender,
		drafts:        drafts,
		modes:         modes,
		conversations: conversations,
		notifications: notifications,
		windowStore:   windowStore,
		windowOpts:    windowOpts,
		windows:       make(map[int64]*window.Manager),
	}
}

func (s *ThreadService) Send(ctx context.Context, req model.SendRequest) (*model.Message, error) {
	msg, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	// Surface the new message in an already-open window immediately.
	if mgr := s.existingWindow(msg.ThreadID); mgr != nil {
		mgr.Apply(msg)
	}
	return msg, nil
}

func (s *ThreadService) Threads(ctx context.Context, includeArchived bool) ([]*model.Conversation, error) {
	return s.conversations.List(ctx, includeArchived)
}

func (s *ThreadService) Thread(ctx context.Context, threadID int64) (*model.Conversation, error) {
	return s.conversations.Get(ctx, threadID)
}

func (s *ThreadService) SetArchived(ctx context.Context, threadID int64, archived bool) error {
	return s.conversations.SetArchived(ctx, threadID, archived)
}

// ThreadItems loads the thread's window (if not yet open) and returns its
// projection.
func (s *ThreadService) ThreadItems(ctx context.Context, threadID int64) ([]model.ThreadItem, error) {
	if _, err := s.conversations.Get(ctx, threadID); err != nil {
		return nil, ErrUnknownThread
	}
	mgr := s.windowFor(threadID)
	if _, err := mgr.LoadInitial(ctx); err != nil {
		return nil, err
	}
	return mgr.Project(ctx), nil
}

// LoadOlder pages older history into the thread's window. It reports
// whether a fetch actually ran and whether history is now exhausted.
func (s *ThreadService) LoadOlder(ctx context.Context, threadID int64, cutoff int64) (fetched, exhausted bool, err error) {
	mgr := s.windowFor(threadID)
	fetched, err = mgr.LoadOlder(ctx, cutoff)
	if err != nil {
		return false, false, err
	}
	return fetched, mgr.Snapshot().Exhausted, nil
}

// JumpTo pages history until the message is in the window and returns its
// index in the current snapshot.
func (s *ThreadService) JumpTo(ctx context.Context, threadID, messageID int64) (int, error) {
	return s.windowFor(threadID).JumpTo(ctx, messageID)
}

func (s *ThreadService) Mode(threadID int64) model.SendMode {
	return s.modes.Get(threadID)
}

func (s *ThreadService) SetMode(threadID int64, mode model.SendMode) error {
	if mode != model.SendModeSend && mode != model.SendModeDraft {
		return ErrInvalidMode
	}
	s.modes.Set(threadID, mode)
	return nil
}

func (s *ThreadService) ToggleMode(threadID int64) model.SendMode {
	return s.modes.Toggle(threadID)
}

func (s *ThreadService) SaveDraft(ctx context.Context, addresses []string, body string) (*model.Conversation, error) {
	return s.drafts.Save(ctx, addresses, body)
}

func (s *ThreadService) ClearDraft(ctx context.Context, threadID int64) error {
	return s.drafts.Clear(ctx, threadID)
}

func (s *ThreadService) Notifications(limit int) []notify.Event {
	return s.notifications.Recent(limit)
}

func (s *ThreadService) windowFor(threadID int64) *window.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	mgr, ok := s.windows[threadID]
	if !ok {
		mgr = window.NewManager(s.windowStore, threadID, s.windowOpts)
		s.windows[threadID] = mgr
	}
	return mgr
}

func (s *ThreadService) existingWindow(threadID int64) *window.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[threadID]
}
