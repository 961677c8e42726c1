// Package storage implements the Redis export of the simulation statistics.
package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-network-simulator/internal/config"
)

var redisClient redis.UniversalClient

// Setup configures the storage backend.
func Setup(c config.Config) error {
	log.Info("storage: setting up storage module")

	if err := SetTimeLocation(c.Metrics.Timezone); err != nil {
		return err
	}

	var intervals []AggregationInterval
	for _, agg := range c.Metrics.Redis.AggregationIntervals {
		intervals = append(intervals, AggregationInterval(agg))
	}
	if err := SetAggregationIntervals(intervals); err != nil {
		return err
	}

	SetMetricsTTL(
		c.Metrics.Redis.MinuteAggregationTTL,
		c.Metrics.Redis.HourAggregationTTL,
		c.Metrics.Redis.DayAggregationTTL,
		c.Metrics.Redis.MonthAggregationTTL,
	)

	log.Info("storage: setting up Redis client")
	client, err := newRedisClient(c)
	if err != nil {
		return err
	}
	redisClient = client

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "storage: ping redis error")
	}

	return nil
}

// RedisClient returns the Redis client. It is nil when the storage has not
// been set up.
func RedisClient() redis.UniversalClient {
	return redisClient
}

func newRedisClient(c config.Config) (redis.UniversalClient, error) {
	if c.Redis.URL != "" {
		opt, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "storage: parse redis url error")
		}
		if c.Redis.PoolSize != 0 {
			opt.PoolSize = c.Redis.PoolSize
		}
		return redis.NewClient(opt), nil
	}

	if len(c.Redis.Servers) == 0 {
		return nil, errors.New("at least one redis server must be configured")
	}

	var tlsConfig *tls.Config
	if c.Redis.TLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	if c.Redis.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     c.Redis.Servers,
			PoolSize:  c.Redis.PoolSize,
			Password:  c.Redis.Password,
			TLSConfig: tlsConfig,
		}), nil
	}

	if c.Redis.MasterName != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       c.Redis.MasterName,
			SentinelAddrs:    c.Redis.Servers,
			SentinelPassword: c.Redis.Password,
			DB:               c.Redis.Database,
			PoolSize:         c.Redis.PoolSize,
			TLSConfig:        tlsConfig,
		}), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:      c.Redis.Servers[0],
		DB:        c.Redis.Database,
		Password:  c.Redis.Password,
		PoolSize:  c.Redis.PoolSize,
		TLSConfig: tlsConfig,
	}), nil
}
