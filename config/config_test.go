package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "SessionId", cfg.Session.CookieName)
	assert.Equal(t, 20*time.Minute, cfg.Session.SessionTTL())
	assert.Equal(t, 10800, cfg.Pool.RecycleInterval)
	assert.Equal(t, 30, cfg.Pool.StatsInterval)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
redis:
  address: cache.internal:6380
  db: 13
session:
  ttl: 3600
  maxSizeBytes: 4096
`)))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Address)
	assert.Equal(t, 13, cfg.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Session.SessionTTL())
	assert.Equal(t, 4096, cfg.Session.MaxSizeBytes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SESSIONCACHE_REDIS_ADDRESS", "10.0.0.5:6379")
	t.Setenv("SESSIONCACHE_SESSION_TTL", "90")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Address)
	assert.Equal(t, 90, cfg.Session.TTL)
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg, err := Load(viper.New())
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{name: "bad server port", mutate: func(c *AppConfig) { c.Server.Port = 0 }},
		{name: "missing redis address", mutate: func(c *AppConfig) { c.Redis.Address = "" }},
		{name: "redis address without port", mutate: func(c *AppConfig) { c.Redis.Address = "localhost" }},
		{name: "zero ttl", mutate: func(c *AppConfig) { c.Session.TTL = 0 }},
		{name: "no cookie name", mutate: func(c *AppConfig) { c.Session.CookieName = "" }},
		{name: "negative max size", mutate: func(c *AppConfig) { c.Session.MaxSizeBytes = -1 }},
		{name: "no async workers", mutate: func(c *AppConfig) { c.Session.AsyncWorkers = 0 }},
		{name: "grace longer than recycle", mutate: func(c *AppConfig) { c.Pool.RecycleInterval = 5; c.Pool.RetireGrace = 10 }},
		{name: "bad metrics port", mutate: func(c *AppConfig) { c.Metrics.Port = 70000 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
