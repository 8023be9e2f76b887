package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrConversationNotFound is returned when a thread id resolves to nothing.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrUnresolvableThread is returned when no usable address remains
	// after normalization.
	ErrUnresolvableThread = errors.New("thread id could not be resolved")
)

type ConversationRepository struct {
	*pg.DB
}

func NewConversationRepository(db *pg.DB) *ConversationRepository {
	return &ConversationRepository{
		db,
	}
}

// Ensure resolves the deterministic thread id for an address set, creating
// the conversation row on first contact. The id never changes when the
// conversation is renamed.
func (r *ConversationRepository) Ensure(ctx context.Context, addresses []string) (*model.Conversation, error) {
	threadID := model.DeriveThreadID(addresses)
	if threadID == 0 {
		return nil, ErrUnresolvableThread
	}

	entity := &ConversationEntity{
		ThreadID:  threadID,
		Addresses: strings.Join(model.NormalizeAddresses(addresses), ","),
	}
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "thread_id"}}, DoNothing: true}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, threadID)
}

func (r *ConversationRepository) Get(ctx context.Context, threadID int64) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "thread_id = ?", threadID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return toConversationModel(&entity), nil
}

func (r *ConversationRepository) List(ctx context.Context, includeArchived bool) ([]*model.Conversation, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ConversationEntity{})
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}
	var entities []*ConversationEntity
	if err := q.Order("last_message_at DESC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toConversationModels(entities), nil
}

// SaveDraft overwrites the thread's draft text, last write wins.
func (r *ConversationRepository) SaveDraft(ctx context.Context, threadID int64, body string) error {
	return r.setColumn(ctx, threadID, "draft", body)
}

func (r *ConversationRepository) ClearDraft(ctx context.Context, threadID int64) error {
	return r.setColumn(ctx, threadID, "draft", "")
}

func (r *ConversationRepository) SetTitle(ctx context.Context, threadID int64, title string) error {
	return r.setColumn(ctx, threadID, "title", title)
}

func (r *ConversationRepository) SetArchived(ctx context.Context, threadID int64, archived bool) error {
	return r.setColumn(ctx, threadID, "archived", archived)
}

// TouchLastMessage moves the conversation's last-message pointer forward.
// Stale pointers (an older message arriving late) are ignored.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, threadID int64, messageID int64, date int64) error {
	res := r.Write(ctx).WithContext(ctx).Model(&ConversationEntity{}).
		Where("thread_id = ? AND last_message_at <= ?", threadID, date).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": date,
		})
	return res.Error
}

func (r *ConversationRepository) setColumn(ctx context.Context, threadID int64, column string, value interface{}) error {
	res := r.Write(ctx).WithContext(ctx).Model(&ConversationEntity{}).
		Where("thread_id = ?", threadID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}
