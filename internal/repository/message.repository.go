package repository

import (
	"context"
	"errors"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).Where("deleted_at IS NULL")

	if f.ThreadID != nil {
		q = q.Where("thread_id = ?", *f.ThreadID)
	}
	if f.Address != nil && *f.Address != "" {
		q = q.Where("address = ?", *f.Address)
	}
	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("date >= ?", f.From.Unix())
	}
	if f.To != nil {
		q = q.Where("date < ?", f.To.Unix())
	}
	if f.Before != nil {
		q = q.Where("date < ?", *f.Before)
	}

	order := "date"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Find(&entities).Error; err != nil {
		return nil, err
	}

	return toMessageModels(entities), nil
}

// ListHistory returns non-recycled messages exchanged with address since
// the given look-back instant, oldest first. Used to assemble idempotent
// upload batches.
func (r *MessageRepository) ListHistory(ctx context.Context, address string, since time.Time) ([]*model.Message, error) {
	from := since
	return r.List(ctx, model.MessageFilter{
		Address: &address,
		From:    &from,
	})
}

// UpdateStatus records a delivery state transition. Terminal states are
// sticky: a late "sent" callback never downgrades "delivered" or "failed".
func (r *MessageRepository) UpdateStatus(ctx context.Context, id int64, status model.MessageStatus) error {
	q := r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).Where("id = ?", id)
	if status == model.MessageStatusSent {
		q = q.Where("status NOT IN ?", []string{
			string(model.MessageStatusDelivered),
			string(model.MessageStatusFailed),
		})
	}
	return q.Update("status", string(status)).Error
}

// UpdateSubscription records the SIM a message was ultimately sent from.
func (r *MessageRepository) UpdateSubscription(ctx context.Context, id int64, subID int) error {
	return r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id = ?", id).
		Update("subscription_id", subID).Error
}

func (r *MessageRepository) MarkRead(ctx context.Context, id int64) error {
	return r.setRead(ctx, id, true)
}

func (r *MessageRepository) MarkUnread(ctx context.Context, id int64) error {
	return r.setRead(ctx, id, false)
}

func (r *MessageRepository) setRead(ctx context.Context, id int64, read bool) error {
	res := r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id = ?", id).
		Update("read", read)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Recycle soft-deletes messages; Restore brings them back. Recycled rows
// stay out of every List result but keep their identity for restore.
func (r *MessageRepository) Recycle(ctx context.Context, ids ...int64) error {
	now := time.Now()
	return r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id IN ?", ids).
		Update("deleted_at", &now).Error
}

func (r *MessageRepository) Restore(ctx context.Context, ids ...int64) error {
	return r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id IN ?", ids).
		Update("deleted_at", nil).Error
}

// RecycledIDs returns the soft-deleted message ids of a thread so callers
// can exclude them when paging in older rows.
func (r *MessageRepository) RecycledIDs(ctx context.Context, threadID int64) (map[int64]struct{}, error) {
	var ids []int64
	err := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("thread_id = ? AND deleted_at IS NOT NULL", threadID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ListDueScheduled returns scheduled messages whose send-at time elapsed.
func (r *MessageRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Message, error) {
	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("scheduled = ? AND send_at <= ? AND deleted_at IS NULL", true, now.Unix()).
		Order("send_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// PromoteScheduled clears the scheduled flag, admitting the message into
// the normal delivery state machine. Returns ErrNotFound when the message
// was cancelled in the meantime.
func (r *MessageRepository) PromoteScheduled(ctx context.Context, id int64) error {
	res := r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id = ? AND scheduled = ?", id, true).
		Update("scheduled", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LastInboundSubscription returns the SIM that most recently received a
// message from the given address, or model.SubscriptionUnknown.
func (r *MessageRepository) LastInboundSubscription(ctx context.Context, address string) (int, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("address = ? AND direction = ? AND subscription_id != ?", address, string(model.DirectionInbound), model.SubscriptionUnknown).
		Order("date DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.SubscriptionUnknown, nil
		}
		return model.SubscriptionUnknown, err
	}
	return entity.SubscriptionID, nil
}
