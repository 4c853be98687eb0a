package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	ServerURL    string        `mapstructure:"server_url"`
	Room         string        `mapstructure:"room"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	GraceWindow  time.Duration `mapstructure:"grace_window"`
	RestartTries int           `mapstructure:"restart_tries"`
	HealthEvery  time.Duration `mapstructure:"health_every"`
	StatusPort   int           `mapstructure:"status_port"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("server_url", "wss://localhost:8765")
	v.SetDefault("room", "main")
	v.SetDefault("username", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("grace_window", "5s")
	v.SetDefault("restart_tries", 1)
	v.SetDefault("health_every", "2s")
	v.SetDefault("status_port", 7474)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
