package main

import (
	"errors"
	"fmt"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/bootstrap"
	"github.com/redis/go-redis/v9"
)

var errRedisNotConfigured = errors.New("redis not configured")

// connectRedisOnly connects to Redis when configuration is present. A nil
// client with nil error means Redis is simply not configured.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedisOnly(cmdCtx *commandContext) (redis.UniversalClient, error) {
	client, err := maybeConnectRedis(cmdCtx)
	if errors.Is(err, errRedisNotConfigured) {
		cmdCtx.Logger.Info("no redis configuration detected; skipping redis connection")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(cmdCtx *commandContext) (redis.UniversalClient, error) {
	if !hasRedisConfig(&cmdCtx.Config.Redis) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
