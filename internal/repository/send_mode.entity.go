package repository

import (
	"github.com/luzzy/message-sync/internal/model"
)

type SendModeEntity struct {
	ThreadID int64  `db:"thread_id" gorm:"primaryKey;column:thread_id"`
	Mode     string `db:"mode"      gorm:"column:mode;not null"`
}

func (SendModeEntity) TableName() string {
	return "thread_send_modes"
}

func toSendModeModel(e *SendModeEntity) *model.ThreadSendMode {
	if e == nil {
		return nil
	}
	return &model.ThreadSendMode{
		ThreadID: e.ThreadID,
		Mode:     model.SendMode(e.Mode),
	}
}
