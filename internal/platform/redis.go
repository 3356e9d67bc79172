package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	// redisPoolSize bounds connections per process; the gateway's hot path
	// (flags, budget, load counters) runs several reads per request.
	redisPoolSize     = 20
	redisMinIdleConns = 2
	redisPingTimeout  = 2 * time.Second
	redisConnectMax   = 15 * time.Second
)

// NewRedisClient connects to Redis with pool settings sized for the provider
// gateway's counter traffic. Startup races against redis in local compose
// setups, so the initial ping retries with backoff for a bounded window
// before giving up.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis URL %q: %w", redisURL, err)
	}
	opts.PoolSize = redisPoolSize
	opts.MinIdleConns = redisMinIdleConns

	client := redis.NewClient(opts)

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = redisConnectMax
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable after %s: %w", redisConnectMax, err)
	}

	return client, nil
}
