package repository

import (
	"context"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/pg"
	"gorm.io/gorm/clause"
)

type SendModeRepository struct {
	*pg.DB
}

func NewSendModeRepository(db *pg.DB) *SendModeRepository {
	return &SendModeRepository{
		db,
	}
}

func (r *SendModeRepository) GetAll(ctx context.Context) ([]*model.ThreadSendMode, error) {
	var entities []*SendModeEntity
	if err := r.Read(ctx).WithContext(ctx).Find(&entities).Error; err != nil {
		return nil, err
	}
	models := make([]*model.ThreadSendMode, len(entities))
	for i, e := range entities {
		models[i] = toSendModeModel(e)
	}
	return models, nil
}

func (r *SendModeRepository) Upsert(ctx context.Context, threadID int64, mode model.SendMode) error {
	entity := &SendModeEntity{ThreadID: threadID, Mode: string(mode)}
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"mode"}),
		}).
		Create(entity).Error
}

func (r *SendModeRepository) Delete(ctx context.Context, threadID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Delete(&SendModeEntity{}, "thread_id = ?", threadID).Error
}
