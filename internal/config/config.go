package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings. Values come from a .env file when
// present, overridden by the environment.
type Config struct {
	ListenAddr    string
	DataDir       string
	FeedBaseURL   string
	PollInterval  time.Duration
	JWTSecret     string
	LogLevel      string
	StartingCash  string
	HistoryLength int
}

// Load reads configuration from .env and the environment.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // no config file is fine, env still applies

	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("FEED_BASE_URL", "https://api.coinlore.net")
	viper.SetDefault("POLL_INTERVAL", "5s")
	viper.SetDefault("JWT_SECRET", "dev-secret-change-me")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STARTING_CASH", "1000")
	viper.SetDefault("HISTORY_LENGTH", 100)

	return &Config{
		ListenAddr:    viper.GetString("LISTEN_ADDR"),
		DataDir:       viper.GetString("DATA_DIR"),
		FeedBaseURL:   viper.GetString("FEED_BASE_URL"),
		PollInterval:  viper.GetDuration("POLL_INTERVAL"),
		JWTSecret:     viper.GetString("JWT_SECRET"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
		StartingCash:  viper.GetString("STARTING_CASH"),
		HistoryLength: viper.GetInt("HISTORY_LENGTH"),
	}
}
