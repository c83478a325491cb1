package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	StoreURL string `mapstructure:"store_url"`

	STUNServers []string `mapstructure:"stun_servers"`

	RingTimeout         time.Duration `mapstructure:"ring_timeout"`
	IncomingRingTimeout time.Duration `mapstructure:"ring_timeout_incoming"`
	TeardownGrace       time.Duration `mapstructure:"teardown_grace"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("store_url", "ws://localhost:8080/api/ws/store")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("ring_timeout", "30s")
	// Slightly longer than ring_timeout so the callee normally observes the
	// caller's missed write before its own timer fires.
	v.SetDefault("ring_timeout_incoming", "31s")
	v.SetDefault("teardown_grace", "2s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
