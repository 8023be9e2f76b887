package model

import (
	"errors"
	"time"
)

// MessageStatus is the delivery lifecycle state of an outbound message.
// Exactly one terminal state is recorded per transport attempt.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Direction distinguishes messages we received from messages we originated.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SubscriptionUnknown marks a message whose sending SIM was never resolved.
const SubscriptionUnknown = -1

type Message struct {
	ID        int64     `json:"id"        db:"id"        gorm:"primaryKey;autoIncrement;column:id"`
	ThreadID  int64     `json:"thread_id" db:"thread_id" gorm:"column:thread_id;not null;index"`
	Address   string    `json:"address"   db:"address"   gorm:"column:address;not null"` // remote party, E.164 where possible
	Direction Direction `json:"direction" db:"direction" gorm:"column:direction;not null"`
	Body      string    `json:"body"      db:"body"      gorm:"column:body;not null"`
	// Date is second-resolution and is the ordering key; DateMs keeps the
	// original millisecond stamp for display.
	Date           int64         `json:"date"            db:"date"            gorm:"column:date;not null;index"`
	DateMs         int64         `json:"date_ms"         db:"date_ms"         gorm:"column:date_ms;not null"`
	Status         MessageStatus `json:"status"          db:"status"          gorm:"column:status;not null;default:queued"`
	SubscriptionID int           `json:"subscription_id" db:"subscription_id" gorm:"column:subscription_id;default:-1"`
	Read           bool          `json:"read"            db:"read"            gorm:"column:read;default:false"`
	Scheduled      bool          `json:"scheduled"       db:"scheduled"       gorm:"column:scheduled;default:false"`
	SendAt         int64         `json:"send_at"         db:"send_at"         gorm:"column:send_at;default:0"`
	Attachments    []Attachment  `json:"attachments,omitempty"                gorm:"-"`
}

func (Message) TableName() string { return "messages" }

// Attachment is a reference to media persisted elsewhere; only the
// reference travels with the message.
type Attachment struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name,omitempty"`
}

// IsPending reports whether the message is still waiting for its scheduled
// send time. Pending scheduled messages are excluded from delivery state
// transitions.
func (m *Message) IsPending(now time.Time) bool {
	return m.Scheduled && m.SendAt > now.Unix()
}

// MessageFilter controls thread and history queries.
type MessageFilter struct {
	ThreadID  *int64
	Address   *string
	Direction *Direction
	Statuses  []MessageStatus
	From      *time.Time
	To        *time.Time
	Before    *int64 // strictly older than this second-resolution date
	Limit     int
	Desc      bool
}

// SendRequest is the input to the outbound delivery engine.
type SendRequest struct {
	Addresses      []string
	SubscriptionID int
	Body           string
	Attachments    []Attachment
	ScheduledAt    int64 // unix seconds; zero means send now
}

func (r SendRequest) Validate() error {
	if len(r.Addresses) == 0 {
		return errors.New("at least one address is required")
	}
	if r.Body == "" && len(r.Attachments) == 0 {
		return errors.New("body or attachments required")
	}
	return nil
}
