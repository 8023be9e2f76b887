package model

// SendMode routes push-triggered commands for a thread: SEND dispatches the
// message immediately, DRAFT saves it and alerts the user instead.
type SendMode string

const (
	SendModeSend  SendMode = "SEND"
	SendModeDraft SendMode = "DRAFT"
)

// Toggled returns the other mode.
func (m SendMode) Toggled() SendMode {
	if m == SendModeDraft {
		return SendModeSend
	}
	return SendModeDraft
}

// ThreadSendMode is the persisted per-thread policy row. Absence of a row
// means SendModeSend.
type ThreadSendMode struct {
	ThreadID int64    `json:"thread_id" db:"thread_id" gorm:"primaryKey;column:thread_id"`
	Mode     SendMode `json:"mode"      db:"mode"      gorm:"column:mode;not null"`
}

func (ThreadSendMode) TableName() string { return "thread_send_modes" }
