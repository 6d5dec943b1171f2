package cmd

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/doulaflow/doulaflow/pkg/registry"
	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/senders/quota"
)

// NewSMSQuota builds the monthly SMS segment quota. With a Redis URL the
// counter is shared across instances; without one it is process-local.
func NewSMSQuota(redisURL string, monthlyLimit int) quota.SMSQuota {
	if redisURL == "" {
		return quota.NewMemoryQuota(monthlyLimit)
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(err)
	}

	return quota.NewRedisQuota(redis.NewClient(options), monthlyLimit)
}

// NewRegistry wires the step handler registry against logging senders.
// Deployments embedding the engine swap in real delivery implementations.
func NewRegistry(logger *slog.Logger, smsQuota quota.SMSQuota) (*registry.Registry, senders.Senders) {
	deps := senders.LogSenders(logger, smsQuota)

	return registry.NewDefaultRegistry(logger, deps), deps
}
