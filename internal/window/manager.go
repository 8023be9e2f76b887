// Package window owns the visible slice of one conversation. A single
// writer merges persisted rows and paged-in older rows into a bounded,
// chronologically ordered list and publishes immutable snapshots, so
// readers never observe a half-mutated window.
package window

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("window: message not in thread")

// MessageStore is the slice of the message repository the window needs.
type MessageStore interface {
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, error)
	MarkRead(ctx context.Context, id int64) error
	RecycledIDs(ctx context.Context, threadID int64) (map[int64]struct{}, error)
}

type Options struct {
	Cap            int           // default 500
	SeparatorGap   time.Duration // default 300s
	JumpMaxLoops   int           // default 1000
	OlderPageLimit int           // default 100
}

func (o *Options) applyDefaults() {
	if o.Cap <= 0 {
		o.Cap = 500
	}
	if o.SeparatorGap <= 0 {
		o.SeparatorGap = 300 * time.Second
	}
	if o.JumpMaxLoops <= 0 {
		o.JumpMaxLoops = 1000
	}
	if o.OlderPageLimit <= 0 {
		o.OlderPageLimit = 100
	}
}

// Manager maintains the window for one thread. All mutations run under a
// single lock; readers get copies.
type Manager struct {
	store    MessageStore
	threadID int64
	opts     Options

	mu        sync.Mutex
	window    []*model.Message // ascending by date
	loaded    map[int64]struct{}
	exhausted bool
	fetching  bool
	version   uint64

	changed chan struct{}
}

func NewManager(store MessageStore, threadID int64, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		store:    store,
		threadID: threadID,
		opts:     opts,
		loaded:   make(map[int64]struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// Changed signals that a projection marked messages read; conversation
// list views re-read their unread counts on it.
func (m *Manager) Changed() <-chan struct{} {
	return m.changed
}

// Snapshot is an immutable copy of the window plus its pagination state.
type Snapshot struct {
	Messages  []model.Message
	Exhausted bool
	Version   uint64
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	out := make([]model.Message, len(m.window))
	for i, msg := range m.window {
		out[i] = *msg
	}
	return Snapshot{Messages: out, Exhausted: m.exhausted, Version: m.version}
}

// LoadInitial reads the most recent messages for the thread and merges
// them into the window. Merging is a set difference keyed by message id,
// so calling it again without new data leaves the window identical.
func (m *Manager) LoadInitial(ctx context.Context) (Snapshot, error) {
	recent, err := m.store.List(ctx, model.MessageFilter{
		ThreadID: &m.threadID,
		Limit:    m.opts.Cap,
		Desc:     true,
	})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load initial window")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(recent)
	return m.snapshotLocked(), nil
}

// LoadOlder pages in messages strictly older than cutoff (seconds). It
// returns false without fetching when a fetch is already in flight or the
// history is exhausted. An empty page sets the exhausted flag.
func (m *Manager) LoadOlder(ctx context.Context, cutoff int64) (bool, error) {
	m.mu.Lock()
	if m.fetching || m.exhausted {
		m.mu.Unlock()
		return false, nil
	}
	m.fetching = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.fetching = false
		m.mu.Unlock()
	}()

	older, err := m.store.List(ctx, model.MessageFilter{
		ThreadID: &m.threadID,
		Before:   &cutoff,
		Limit:    m.opts.OlderPageLimit,
		Desc:     true,
	})
	if err != nil {
		return false, errors.Wrap(err, "load older page")
	}

	recycled, err := m.store.RecycledIDs(ctx, m.threadID)
	if err != nil {
		logger.Warn("recycled lookup failed, skipping filter", "thread_id", m.threadID, "error", err)
		recycled = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(older) == 0 {
		m.exhausted = true
		m.version++
		return true, nil
	}

	fresh := older[:0]
	for _, msg := range older {
		if _, gone := recycled[msg.ID]; gone {
			continue
		}
		fresh = append(fresh, msg)
	}
	m.mergeOlderLocked(fresh)
	return true, nil
}

// JumpTo returns the window index of messageID, paging older history in
// until the message appears or the history is exhausted. Iteration is
// bounded so pathological data cannot loop forever.
func (m *Manager) JumpTo(ctx context.Context, messageID int64) (int, error) {
	for loop := 0; loop < m.opts.JumpMaxLoops; loop++ {
		m.mu.Lock()
		idx := m.indexOfLocked(messageID)
		exhausted := m.exhausted
		// An empty window starts paging from now.
		cutoff := time.Now().Unix() + 1
		if len(m.window) > 0 {
			cutoff = m.window[0].Date
		}
		m.mu.Unlock()

		if idx >= 0 {
			return idx, nil
		}
		if exhausted {
			break
		}

		progressed, err := m.LoadOlder(ctx, cutoff)
		if err != nil {
			return -1, err
		}
		if !progressed {
			// Concurrent fetch in flight; yield and re-check.
			time.Sleep(time.Millisecond)
		}
	}
	return -1, ErrNotFound
}

func (m *Manager) indexOfLocked(messageID int64) int {
	if _, ok := m.loaded[messageID]; !ok {
		return -1
	}
	for i, msg := range m.window {
		if msg.ID == messageID {
			return i
		}
	}
	return -1
}

// mergeLocked folds new rows into the window, re-sorts, and trims the
// oldest rows beyond the cap.
func (m *Manager) mergeLocked(incoming []*model.Message) {
	added := false
	for _, msg := range incoming {
		if _, ok := m.loaded[msg.ID]; ok {
			m.updateLocked(msg)
			continue
		}
		m.loaded[msg.ID] = struct{}{}
		m.window = append(m.window, msg)
		added = true
	}
	if !added {
		return
	}
	m.sortLocked()
	m.trimLocked()
	m.version++
}

// mergeOlderLocked prepends an older page. Older pages never trim: the cap
// bounds what the initial load pulls in, not how far back the user can
// scroll.
func (m *Manager) mergeOlderLocked(incoming []*model.Message) {
	added := false
	for _, msg := range incoming {
		if _, ok := m.loaded[msg.ID]; ok {
			continue
		}
		m.loaded[msg.ID] = struct{}{}
		m.window = append(m.window, msg)
		added = true
	}
	if added {
		m.sortLocked()
	}
	m.version++
}

// updateLocked refreshes a loaded message in place, keeping delivery state
// transitions visible without a reload.
func (m *Manager) updateLocked(msg *model.Message) {
	for i, existing := range m.window {
		if existing.ID == msg.ID {
			if existing.Status != msg.Status || existing.Read != msg.Read {
				m.window[i] = msg
				m.version++
			}
			return
		}
	}
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.window, func(i, j int) bool {
		if m.window[i].DateMs != m.window[j].DateMs {
			return m.window[i].DateMs < m.window[j].DateMs
		}
		return m.window[i].ID < m.window[j].ID
	})
}

func (m *Manager) trimLocked() {
	if over := len(m.window) - m.opts.Cap; over > 0 {
		for _, msg := range m.window[:over] {
			delete(m.loaded, msg.ID)
		}
		m.window = append([]*model.Message(nil), m.window[over:]...)
	}
}

// Apply merges a single new or updated message, typically from a delivery
// status event or an inbound arrival.
func (m *Manager) Apply(msg *model.Message) {
	if msg == nil || msg.ThreadID != m.threadID {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked([]*model.Message{msg})
}

// Project renders the window as the thread item sequence: date separators
// where the gap between neighbours exceeds the threshold or the sending
// SIM changes, an error marker after each failed message, a sending marker
// after each queued outbound one, and a sent/delivered marker after the
// final message when it is the thread's last outbound send. Unread
// messages touched by the projection are marked read and the changed
// signal fires.
func (m *Manager) Project(ctx context.Context) []model.ThreadItem {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	items := make([]model.ThreadItem, 0, len(snap.Messages)*2)
	var prev *model.Message
	var touched []int64

	for i := range snap.Messages {
		msg := &snap.Messages[i]

		if prev == nil || m.needsSeparator(prev, msg) {
			items = append(items, model.ThreadItem{
				Kind:  model.ThreadItemDateTime,
				Date:  msg.DateMs,
				SimID: simLabel(msg.SubscriptionID),
			})
		}

		items = append(items, model.ThreadItem{Kind: model.ThreadItemMessage, Message: msg})

		switch {
		case msg.Status == model.MessageStatusFailed:
			items = append(items, model.ThreadItem{
				Kind:      model.ThreadItemError,
				MessageID: msg.ID,
				Body:      msg.Body,
			})
		case msg.Direction == model.DirectionOutbound && msg.Status == model.MessageStatusQueued && !msg.Scheduled:
			items = append(items, model.ThreadItem{Kind: model.ThreadItemSending, MessageID: msg.ID})
		case i == len(snap.Messages)-1 && msg.Direction == model.DirectionOutbound &&
			(msg.Status == model.MessageStatusSent || msg.Status == model.MessageStatusDelivered):
			items = append(items, model.ThreadItem{
				Kind:      model.ThreadItemSent,
				MessageID: msg.ID,
				Delivered: msg.Status == model.MessageStatusDelivered,
			})
		}

		if !msg.Read {
			touched = append(touched, msg.ID)
		}
		prev = msg
	}

	if len(touched) > 0 {
		m.markRead(ctx, touched)
	}
	return items
}

func (m *Manager) needsSeparator(prev, cur *model.Message) bool {
	if time.Duration(cur.DateMs-prev.DateMs)*time.Millisecond > m.opts.SeparatorGap {
		return true
	}
	return prev.SubscriptionID != model.SubscriptionUnknown &&
		cur.SubscriptionID != model.SubscriptionUnknown &&
		prev.SubscriptionID != cur.SubscriptionID
}

func (m *Manager) markRead(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := m.store.MarkRead(ctx, id); err != nil {
			logger.Warn("failed to mark message read", "message_id", id, "error", err)
			continue
		}
		m.mu.Lock()
		for _, msg := range m.window {
			if msg.ID == id {
				msg.Read = true
				break
			}
		}
		m.version++
		m.mu.Unlock()
	}

	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func simLabel(subID int) string {
	if subID == model.SubscriptionUnknown {
		return ""
	}
	return strconv.Itoa(subID)
}
