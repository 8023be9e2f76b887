package repository

import (
	"time"

	"github.com/luzzy/message-sync/internal/model"
)

type MessageEntity struct {
	ID             int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	ThreadID       int64      `db:"thread_id"       gorm:"column:thread_id;not null;index"`
	Address        string     `db:"address"         gorm:"column:address;not null;index"`
	Direction      string     `db:"direction"       gorm:"column:direction;not null"`
	Body           string     `db:"body"            gorm:"column:body;not null"`
	Date           int64      `db:"date"            gorm:"column:date;not null;index"`
	DateMs         int64      `db:"date_ms"         gorm:"column:date_ms;not null"`
	Status         string     `db:"status"          gorm:"column:status;not null;default:queued"`
	SubscriptionID int        `db:"subscription_id" gorm:"column:subscription_id;default:-1"`
	Read           bool       `db:"read"            gorm:"column:read;default:false"`
	Scheduled      bool       `db:"scheduled"       gorm:"column:scheduled;default:false"`
	SendAt         int64      `db:"send_at"         gorm:"column:send_at;default:0"`
	DeletedAt      *time.Time `db:"deleted_at"      gorm:"column:deleted_at;index"` // recycle bin
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		Address:        m.Address,
		Direction:      string(m.Direction),
		Body:           m.Body,
		Date:           m.Date,
		DateMs:         m.DateMs,
		Status:         string(m.Status),
		SubscriptionID: m.SubscriptionID,
		Read:           m.Read,
		Scheduled:      m.Scheduled,
		SendAt:         m.SendAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:             e.ID,
		ThreadID:       e.ThreadID,
		Address:        e.Address,
		Direction:      model.Direction(e.Direction),
		Body:           e.Body,
		Date:           e.Date,
		DateMs:         e.DateMs,
		Status:         model.MessageStatus(e.Status),
		SubscriptionID: e.SubscriptionID,
		Read:           e.Read,
		Scheduled:      e.Scheduled,
		SendAt:         e.SendAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
