package config

import (
	"errors"
	"net"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	if c.Redis.Address == "" {
		return errors.New("redis address must be specified")
	}
	if _, _, err := net.SplitHostPort(c.Redis.Address); err != nil {
		return errors.New("redis address must be in host:port form")
	}
	if c.Redis.PoolSize < 1 {
		return errors.New("redis pool size must be positive")
	}

	if c.Session.TTL < 1 {
		return errors.New("session TTL must be at least 1 second")
	}
	if c.Session.CookieName == "" {
		return errors.New("session cookie name must be configured")
	}
	if c.Session.MaxSizeBytes < 0 {
		return errors.New("session max size cannot be negative")
	}
	if c.Session.AccessTimeout < 1 {
		return errors.New("session access timeout must be at least 1 millisecond")
	}
	if c.Session.AsyncWorkers < 1 {
		return errors.New("session async workers must be positive")
	}

	if c.Pool.RecycleInterval < 0 || c.Pool.StatsInterval < 0 {
		return errors.New("pool intervals cannot be negative")
	}
	if c.Pool.RecycleInterval > 0 && c.Pool.RetireGrace >= c.Pool.RecycleInterval {
		return errors.New("pool retire grace should be less than recycle interval")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("invalid metrics port")
	}

	return nil
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SESSIONCACHE_PORT")

	// Redis
	v.BindEnv("redis.address", "SESSIONCACHE_REDIS_ADDRESS")
	v.BindEnv("redis.password", "SESSIONCACHE_REDIS_PASSWORD")
	v.BindEnv("redis.db", "SESSIONCACHE_REDIS_DB")
	v.BindEnv("redis.poolSize", "SESSIONCACHE_REDIS_POOL_SIZE")

	// Session
	v.BindEnv("session.ttl", "SESSIONCACHE_SESSION_TTL")
	v.BindEnv("session.cookieName", "SESSIONCACHE_COOKIE_NAME")
	v.BindEnv("session.keyPrefix", "SESSIONCACHE_KEY_PREFIX")
	v.BindEnv("session.maxSizeBytes", "SESSIONCACHE_MAX_SESSION_BYTES")

	// Pool
	v.BindEnv("pool.recycleInterval", "SESSIONCACHE_POOL_RECYCLE_INTERVAL")
	v.BindEnv("pool.statsInterval", "SESSIONCACHE_POOL_STATS_INTERVAL")

	// Log
	v.BindEnv("log.level", "SESSIONCACHE_LOG_LEVEL")
}
