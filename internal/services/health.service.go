package services

import (
	"context"

	"github.com/luzzy/message-sync/pkg/pg"
	"github.com/luzzy/message-sync/pkg/redis"
)

// HealthService answers whether the process's backing stores respond.
type HealthService struct {
	db    *pg.DB
	redis redis.RedisAdapter
}

func NewHealthService(db *pg.DB, adapter redis.RedisAdapter) *HealthService {
	return &HealthService{db: db, redis: adapter}
}

func (s *HealthService) Get() error {
	ctx := context.Background()
	if s.db != nil {
		sqlDB, err := s.db.Read(ctx).DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	if s.redis != nil {
		if err := s.redis.Client().Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
