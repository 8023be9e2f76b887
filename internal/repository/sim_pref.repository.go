package repository

import (
	"context"
	"errors"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SimPrefEntity is the user's explicit per-number SIM choice, the first
// rung of the SIM selection chain.
type SimPrefEntity struct {
	Address        string `db:"address"         gorm:"primaryKey;column:address"`
	SubscriptionID int    `db:"subscription_id" gorm:"column:subscription_id;not null"`
}

func (SimPrefEntity) TableName() string {
	return "sim_preferences"
}

type SimPrefRepository struct {
	*pg.DB
}

func NewSimPrefRepository(db *pg.DB) *SimPrefRepository {
	return &SimPrefRepository{
		db,
	}
}

// Preferred returns the user's SIM for an address, or
// model.SubscriptionUnknown when no preference was ever recorded.
func (r *SimPrefRepository) Preferred(ctx context.Context, address string) (int, error) {
	var entity SimPrefEntity
	err := r.Read(ctx).WithContext(ctx).
		First(&entity, "address = ?", model.NormalizeAddress(address)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.SubscriptionUnknown, nil
		}
		return model.SubscriptionUnknown, err
	}
	return entity.SubscriptionID, nil
}

func (r *SimPrefRepository) SetPreferred(ctx context.Context, address string, subID int) error {
	entity := &SimPrefEntity{
		Address:        model.NormalizeAddress(address),
		SubscriptionID: subID,
	}
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"subscription_id"}),
		}).
		Create(entity).Error
}
