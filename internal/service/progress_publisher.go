package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticketing-import/internal/models"

	"github.com/redis/go-redis/v9"
)

const progressKeyTTL = time.Hour

// RedisProgressPublisher caches the latest progress snapshot of each run so
// dashboards can read it without touching the database.
type RedisProgressPublisher struct {
	client *redis.Client
}

func NewRedisProgressPublisher(client *redis.Client) *RedisProgressPublisher {
	return &RedisProgressPublisher{client: client}
}

func ProgressKey(reportID string) string {
	return fmt.Sprintf("import:progress:%s", reportID)
}

func (p *RedisProgressPublisher) Publish(ctx context.Context, progress models.ImportProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, ProgressKey(progress.ReportID), data, progressKeyTTL).Err()
}

func (p *RedisProgressPublisher) Clear(ctx context.Context, reportID string) error {
	return p.client.Del(ctx, ProgressKey(reportID)).Err()
}

// Latest returns the cached snapshot, or nil when none is stored.
func (p *RedisProgressPublisher) Latest(ctx context.Context, reportID string) (*models.ImportProgress, error) {
	data, err := p.client.Get(ctx, ProgressKey(reportID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var progress models.ImportProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}
