package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/messenger-client/internal/logger"
	redisstorage "github.com/messenger-client/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis-кешу с повторами (backoff 2s → 30s).
// После maxWait возвращает ошибку, и клиент переходит на кеш в памяти.
func ConnectRedisWithRetry(ctx context.Context, redisURL, namespace string, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(pingCtx, redisURL, namespace)
		cancel()
		if err == nil {
			return client, nil
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
