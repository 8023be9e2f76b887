package model

// ThreadItemKind tags entries in the projected thread item stream.
type ThreadItemKind string

const (
	ThreadItemMessage   ThreadItemKind = "message"
	ThreadItemDateTime  ThreadItemKind = "date_time"
	ThreadItemSending   ThreadItemKind = "sending"
	ThreadItemError     ThreadItemKind = "error"
	ThreadItemSent      ThreadItemKind = "sent"
)

// ThreadItem is a display-ordering projection over the message sequence
// plus synthetic separators and status markers. Items are derived on every
// mutation and never persisted.
type ThreadItem struct {
	Kind    ThreadItemKind `json:"kind"`
	Message *Message       `json:"message,omitempty"`

	// date_time separator fields
	Date  int64  `json:"date,omitempty"`
	SimID string `json:"sim_id,omitempty"`

	// error / sending / sent marker fields
	MessageID int64  `json:"message_id,omitempty"`
	Body      string `json:"body,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}
