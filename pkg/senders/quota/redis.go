package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL keeps month buckets around slightly past their month so usage stays
// inspectable, then lets them expire.
const keyTTL = 40 * 24 * time.Hour

// RedisQuota implements SMSQuota on a shared Redis so the limit holds across
// scheduler instances. The INCRBY-then-check sequence may briefly overshoot
// under contention; the compensating DECRBY restores the counter.
type RedisQuota struct {
	client       *redis.Client
	monthlyLimit int
	now          func() time.Time
}

func NewRedisQuota(client *redis.Client, monthlyLimit int) *RedisQuota {
	return &RedisQuota{
		client:       client,
		monthlyLimit: monthlyLimit,
		now:          time.Now,
	}
}

func (q *RedisQuota) Consume(ctx context.Context, organizationID string, segments int) error {
	key := monthKey(organizationID, q.now())

	total, err := q.client.IncrBy(ctx, key, int64(segments)).Result()
	if err != nil {
		return fmt.Errorf("failed to increment sms quota: %w", err)
	}

	// Set the TTL on first use of the bucket.
	if total == int64(segments) {
		err = q.client.Expire(ctx, key, keyTTL).Err()
		if err != nil {
			return fmt.Errorf("failed to expire sms quota key: %w", err)
		}
	}

	if q.monthlyLimit > 0 && total > int64(q.monthlyLimit) {
		err = q.client.DecrBy(ctx, key, int64(segments)).Err()
		if err != nil {
			return fmt.Errorf("failed to roll back sms quota: %w", err)
		}

		return ErrQuotaExceeded
	}

	return nil
}

func (q *RedisQuota) Used(ctx context.Context, organizationID string) (int, error) {
	used, err := q.client.Get(ctx, monthKey(organizationID, q.now())).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read sms quota: %w", err)
	}

	return used, nil
}
