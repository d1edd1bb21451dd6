package services

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitpay/payment-gateway/pkg/pg"
	"github.com/orbitpay/payment-gateway/pkg/redis"
)

type HealthService struct {
	db    *pg.DB
	redis redis.RedisAdapter
}

func NewHealthService(db *pg.DB, redisAdapter redis.RedisAdapter) *HealthService {
	return &HealthService{
		db:    db,
		redis: redisAdapter,
	}
}

// Get reports readiness. Both stores must answer within two seconds.
func (s *HealthService) Get() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		sqlDB, err := s.db.Read(ctx).DB()
		if err != nil {
			return fmt.Errorf("postgres handle: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Client().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}
