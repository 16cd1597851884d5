package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server  ServerConfig
	Redis   RedisConfig
	Session SessionConfig
	Pool    PoolConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

type RedisConfig struct {
	Address        string
	Password       string
	DB             int
	PoolSize       int
	PoolTimeout    int // Seconds
	DialTimeout    int // Milliseconds
	ReadTimeout    int // Milliseconds
	WriteTimeout   int // Milliseconds
	ConnectRetries int
}

type SessionConfig struct {
	TTL           int // Seconds
	CookieName    string
	KeyPrefix     string
	MaxSizeBytes  int
	AccessTimeout int // Milliseconds
	AsyncWorkers  int
}

type PoolConfig struct {
	RecycleInterval int // Seconds, 0 disables
	StatsInterval   int // Seconds, 0 disables
	RetireGrace     int // Seconds
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level string
}

// SessionTTL returns the store-side expiry for session hashes.
func (c *SessionConfig) SessionTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		v := viper.New()
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			// Defaults and environment are enough to run without a file.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		cfg, err := Load(v)
		if err != nil {
			initErr = err
			return
		}
		instance = cfg
	})
	return initErr
}

// Load applies defaults and environment bindings to v, then decodes and
// validates the result. It does not read any file itself.
func Load(v *viper.Viper) (*AppConfig, error) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SESSIONCACHE")

	setDefaults(v)
	bindEnvVars(v)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func Get() *AppConfig {
	return instance
}
