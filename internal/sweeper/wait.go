package sweeper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backoff is a capped exponential delay between connection attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << min(attempt, 16)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// WaitFor pings until it succeeds, logging every failure. It only gives up
// when ctx is done.
func WaitFor(ctx context.Context, name string, ping func(context.Context) error, backoff Backoff, logger logrus.FieldLogger) error {
	for attempt := 1; ; attempt++ {
		err := ping(ctx)
		if err == nil {
			logger.WithFields(logrus.Fields{"target": name, "attempt": attempt}).Info("connected")
			return nil
		}

		sleep := backoff.delay(attempt)
		logger.WithFields(logrus.Fields{
			"target":  name,
			"attempt": attempt,
			"retry":   sleep.String(),
		}).WithError(err).Warn("connection failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// ConnectRedis returns a client once the server answers a ping.
func ConnectRedis(ctx context.Context, addr string, backoff Backoff, logger logrus.FieldLogger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	err := WaitFor(ctx, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}, backoff, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
