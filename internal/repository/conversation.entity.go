package repository

import (
	"github.com/luzzy/message-sync/internal/model"
)

type ConversationEntity struct {
	ThreadID      int64  `db:"thread_id"       gorm:"primaryKey;column:thread_id"`
	Addresses     string `db:"addresses"       gorm:"column:addresses;not null"`
	Title         string `db:"title"           gorm:"column:title"`
	Draft         string `db:"draft"           gorm:"column:draft"`
	Archived      bool   `db:"archived"        gorm:"column:archived;default:false"`
	LastMessageID int64  `db:"last_message_id" gorm:"column:last_message_id;default:0"`
	LastMessageAt int64  `db:"last_message_at" gorm:"column:last_message_at;default:0"`
}

func (ConversationEntity) TableName() string {
	return "conversations"
}

func toConversationEntity(c *model.Conversation) *ConversationEntity {
	if c == nil {
		return nil
	}
	return &ConversationEntity{
		ThreadID:      c.ThreadID,
		Addresses:     c.Addresses,
		Title:         c.Title,
		Draft:         c.Draft,
		Archived:      c.Archived,
		LastMessageID: c.LastMessageID,
		LastMessageAt: c.LastMessageAt,
	}
}

func toConversationModel(e *ConversationEntity) *model.Conversation {
	if e == nil {
		return nil
	}
	return &model.Conversation{
		ThreadID:      e.ThreadID,
		Addresses:     e.Addresses,
		Title:         e.Title,
		Draft:         e.Draft,
		Archived:      e.Archived,
		LastMessageID: e.LastMessageID,
		LastMessageAt: e.LastMessageAt,
	}
}

func toConversationModels(entities []*ConversationEntity) []*model.Conversation {
	if entities == nil {
		return nil
	}
	models := make([]*model.Conversation, len(entities))
	for i, e := range entities {
		models[i] = toConversationModel(e)
	}
	return models
}
