// Package notify collects user-facing notifications: saved drafts, failed
// sends, abandoned uploads. Events land in a bounded in-memory ring the
// control API exposes, with a deep link back to the conversation.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/luzzy/message-sync/pkg/logger"
)

type EventKind string

const (
	EventDraftSaved   EventKind = "draft_saved"
	EventSendFailed   EventKind = "send_failed"
	EventUploadFailed EventKind = "upload_failed"
)

type Event struct {
	Kind      EventKind `json:"kind"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	Body      string    `json:"body,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	DeepLink  string    `json:"deep_link,omitempty"`
	At        time.Time `json:"at"`
}

// Center is the process-wide notification sink.
type Center struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

func NewCenter(capacity int) *Center {
	if capacity <= 0 {
		capacity = 100
	}
	return &Center{capacity: capacity}
}

func (c *Center) DraftSaved(threadID int64, address, body string) {
	c.record(Event{
		Kind:     EventDraftSaved,
		ThreadID: threadID,
		Address:  address,
		Body:     body,
		DeepLink: threadLink(threadID),
	})
	logger.Info("notification: draft saved", "thread_id", threadID, "address", address)
}

func (c *Center) SendFailed(messageID int64, address string, reason string) {
	c.record(Event{
		Kind:      EventSendFailed,
		MessageID: messageID,
		Address:   address,
		Reason:    reason,
	})
	logger.Warn("notification: send failed", "message_id", messageID, "address", address, "reason", reason)
}

func (c *Center) UploadFailed(messageID int64, address string) {
	c.record(Event{
		Kind:      EventUploadFailed,
		MessageID: messageID,
		Address:   address,
	})
	logger.Warn("notification: upload failed", "message_id", messageID, "address", address)
}

// Recent returns up to limit events, newest first.
func (c *Center) Recent(limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.events) {
		limit = len(c.events)
	}
	out := make([]Event, 0, limit)
	for i := len(c.events) - 1; i >= len(c.events)-limit; i-- {
		out = append(out, c.events[i])
	}
	return out
}

func (c *Center) record(ev Event) {
	ev.At = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if len(c.events) > c.capacity {
		c.events = append([]Event(nil), c.events[len(c.events)-c.capacity:]...)
	}
}

func threadLink(threadID int64) string {
	return fmt.Sprintf("app://threads/%d", threadID)
}
