// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunable server settings.
type Config struct {
	Addr         string
	DBPath       string
	UploadsDir   string
	ClientOrigin string
	JWTSecret    string
	PingInterval time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
}

// Load reads configuration from CHATRELAY_* environment variables,
// falling back to defaults for everything except the JWT secret.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATRELAY")
	v.AutomaticEnv()

	v.SetDefault("addr", ":4000")
	v.SetDefault("db_path", "chat.db")
	v.SetDefault("uploads_dir", "uploads")
	v.SetDefault("client_origin", "")
	v.SetDefault("ping_interval", 5*time.Second)
	v.SetDefault("pong_timeout", time.Second)
	v.SetDefault("send_buffer", 16)

	cfg := &Config{
		Addr:         v.GetString("addr"),
		DBPath:       v.GetString("db_path"),
		UploadsDir:   v.GetString("uploads_dir"),
		ClientOrigin: v.GetString("client_origin"),
		JWTSecret:    v.GetString("jwt_secret"),
		PingInterval: v.GetDuration("ping_interval"),
		PongTimeout:  v.GetDuration("pong_timeout"),
		SendBuffer:   v.GetInt("send_buffer"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("CHATRELAY_JWT_SECRET is required")
	}
	if cfg.PongTimeout >= cfg.PingInterval {
		return nil, fmt.Errorf("pong timeout (%s) must be shorter than ping interval (%s)", cfg.PongTimeout, cfg.PingInterval)
	}

	return cfg, nil
}
