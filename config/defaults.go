package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 100)
	v.SetDefault("redis.poolTimeout", 5)
	v.SetDefault("redis.dialTimeout", 2000)
	v.SetDefault("redis.readTimeout", 2000)
	v.SetDefault("redis.writeTimeout", 2000)
	v.SetDefault("redis.connectRetries", 3)

	// Session
	v.SetDefault("session.ttl", 1200)
	v.SetDefault("session.cookieName", "SessionId")
	v.SetDefault("session.keyPrefix", "")
	v.SetDefault("session.maxSizeBytes", 0)
	v.SetDefault("session.accessTimeout", 2000)
	v.SetDefault("session.asyncWorkers", 16)

	// Connection pool maintenance
	v.SetDefault("pool.recycleInterval", 10800)
	v.SetDefault("pool.statsInterval", 30)
	v.SetDefault("pool.retireGrace", 5)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Log
	v.SetDefault("log.level", "info")
}
