package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryQuota is an in-process SMSQuota for development and tests.
type MemoryQuota struct {
	mu           sync.Mutex
	used         map[string]int
	monthlyLimit int
	now          func() time.Time
}

var _ SMSQuota = (*MemoryQuota)(nil)

func NewMemoryQuota(monthlyLimit int) *MemoryQuota {
	return &MemoryQuota{
		used:         make(map[string]int),
		monthlyLimit: monthlyLimit,
		now:          time.Now,
	}
}

func (q *MemoryQuota) Consume(_ context.Context, organizationID string, segments int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := monthKey(organizationID, q.now())

	if q.monthlyLimit > 0 && q.used[key]+segments > q.monthlyLimit {
		return ErrQuotaExceeded
	}

	q.used[key] += segments

	return nil
}

func (q *MemoryQuota) Used(_ context.Context, organizationID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.used[monthKey(organizationID, q.now())], nil
}
