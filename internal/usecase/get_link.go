package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/link"

	"github.com/redis/go-redis/v9"
)

// GetLink returns the sync status of a Square order, with a short redis
// cache so dashboard polling does not hammer Postgres.
type GetLink struct {
	redisClient *redis.Client
	links       link.Repository
}

func NewGetLink(redisClient *redis.Client, links link.Repository) *GetLink {
	return &GetLink{redisClient: redisClient, links: links}
}

func (uc *GetLink) Execute(ctx context.Context, sourceID string) (*link.Link, error) {
	cacheKey := fmt.Sprintf("link:%s", sourceID)

	if uc.redisClient != nil {
		val, err := uc.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var l link.Link
			if err := json.Unmarshal([]byte(val), &l); err == nil {
				return &l, nil
			}
		}
	}

	l, err := uc.links.GetBySourceID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if l == nil {
		return nil, nil
	}

	if uc.redisClient != nil {
		data, _ := json.Marshal(l)
		// Short TTL so status transitions show up quickly
		uc.redisClient.Set(ctx, cacheKey, data, 2*time.Second)
	}

	return l, nil
}
