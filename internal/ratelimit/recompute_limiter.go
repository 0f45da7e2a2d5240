package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/bigdeal/internal/config"
)

const (
	keyRecomputeRequests = "bigdeal:recompute:requests:%s"
	keyRecomputeRun      = "bigdeal:recompute:run:%s"
)

// RecomputeLimiter throttles recompute requests per scenario and guards
// recompute runs with a cross-process lock. A nil limiter allows everything.
type RecomputeLimiter struct {
	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewRecomputeLimiter(cfg config.Config, bucket *TokenBucket, locker *Locker) *RecomputeLimiter {
	if bucket == nil && locker == nil {
		return nil
	}
	return &RecomputeLimiter{
		bucket: bucket,
		locker: locker,
		rate:   cfg.RecomputeRequestsPerMinute / 60,
		burst:  cfg.RecomputeRequestBurst,
	}
}

func (l *RecomputeLimiter) AllowRequest(ctx context.Context, scenarioID string) (Result, error) {
	if l == nil || l.bucket == nil || l.rate <= 0 || l.burst <= 0 {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyRecomputeRequests, strings.TrimSpace(scenarioID)), l.rate, l.burst)
}

// TryLockRun acquires the run lock for a scenario. Without Redis the database
// claim is the only guard and the lock is reported as held.
func (l *RecomputeLimiter) TryLockRun(ctx context.Context, scenarioID string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.locker == nil {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyRecomputeRun, strings.TrimSpace(scenarioID)), ttl)
}

func (l *RecomputeLimiter) ReleaseRun(ctx context.Context, scenarioID, token string) error {
	if l == nil || l.locker == nil {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyRecomputeRun, strings.TrimSpace(scenarioID)), token)
}
