package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the master's full configuration tree. Values come from
// defaults, then the yaml file, then ANTCODE_* environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Log       LogConfig       `mapstructure:"log"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MasterURL is the externally reachable base workers report back to;
	// defaults to http://{host}:{port}
	MasterURL string `mapstructure:"master_url"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type QueueConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	MaxEntries    int    `mapstructure:"max_entries"`
}

type SchedulerConfig struct {
	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batch_size"`
	// MaxConcurrentTasks caps executions running on the master itself
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
}

type DispatchConfig struct {
	UseWebsocket bool `mapstructure:"use_websocket"`
}

type AuthConfig struct {
	// AdminUser is ensured at startup so a fresh install is reachable
	AdminUser string `mapstructure:"admin_user"`
}

// Load reads configuration from the optional file path plus the
// environment
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("data.dir", "/var/lib/antcode")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis_addr", "127.0.0.1:6379")
	v.SetDefault("queue.key_prefix", "antcode")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.batch_size", 8)
	v.SetDefault("scheduler.max_concurrent_tasks", 16)
	v.SetDefault("dispatch.use_websocket", false)
	v.SetDefault("auth.admin_user", "admin")

	v.SetEnvPrefix("ANTCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.MasterURL == "" {
		host := cfg.Server.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		cfg.Server.MasterURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}
	return &cfg, nil
}
