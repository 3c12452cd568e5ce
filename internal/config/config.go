package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret     string
		Issuer        string
		AccessTTL     time.Duration
		RefreshTTL    time.Duration
		AdminUsername string
		AdminEmail    string
		AdminPassword string
	}
	Realtime struct {
		QueueSize    int
		SendTimeout  time.Duration
		PingInterval time.Duration
		PongWait     time.Duration
	}
	Relay struct {
		RedisURL string
		Password string
		DB       int
		Channel  string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
// Values from a local .env file never override variables already set.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix("TASKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.shutdowntimeout", 10*time.Second)
	v.SetDefault("database.path", "data/taskhub.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.issuer", "taskhub")
	v.SetDefault("auth.accessttl", 15*time.Minute)
	v.SetDefault("auth.refreshttl", 24*time.Hour)
	v.SetDefault("auth.adminusername", "")
	v.SetDefault("auth.adminemail", "")
	v.SetDefault("auth.adminpassword", "")
	v.SetDefault("realtime.queuesize", 64)
	v.SetDefault("realtime.sendtimeout", 10*time.Second)
	v.SetDefault("realtime.pinginterval", 54*time.Second)
	v.SetDefault("realtime.pongwait", 60*time.Second)
	v.SetDefault("relay.redisurl", "")
	v.SetDefault("relay.password", "")
	v.SetDefault("relay.db", 0)
	v.SetDefault("relay.channel", "taskhub:tasks")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "taskhub-exports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required (TASKHUB_AUTH_JWTSECRET)")
	}
	if c.Auth.AdminUsername != "" && len(c.Auth.AdminPassword) < 8 {
		return errors.New("admin password must be at least 8 characters")
	}
	if c.Realtime.PingInterval >= c.Realtime.PongWait {
		return fmt.Errorf("realtime ping interval (%s) must be shorter than pong wait (%s)", c.Realtime.PingInterval, c.Realtime.PongWait)
	}
	return nil
}
