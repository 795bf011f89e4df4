package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application's configuration values.
type Config struct {
	ServerPort    string
	APIToken      string
	LogLevel      slog.Level
	LogFormat     string
	LogOutput     string
	ReviewURL     string
	ReviewToken   string
	PrimaryPath   string
	SecondaryPath string
	MapperURL     string
	MirrorBranch  string
	MaxWorkers    int

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")
	viper.SetDefault("MIRROR_BRANCH", "reconcile")
	viper.SetDefault("MAX_WORKERS", 5)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "stackwarden")
	viper.SetDefault("DB_NAME", "stackwarden")

	viper.SetEnvPrefix("SW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", "error", err)
		}
	}

	if viper.GetString("REVIEW_URL") == "" {
		return nil, fmt.Errorf("REVIEW_URL must be set")
	}
	if viper.GetString("REVIEW_TOKEN") == "" {
		return nil, fmt.Errorf("REVIEW_TOKEN must be set")
	}
	if viper.GetString("PRIMARY_PATH") == "" {
		return nil, fmt.Errorf("PRIMARY_PATH must be set")
	}

	// Parse the log level string into a slog.Level type.
	var logLevel slog.Level
	logLevelStr := strings.ToLower(viper.GetString("LOG_LEVEL"))
	switch logLevelStr {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		slog.Warn("unrecognized log level, defaulting to info", "provided", logLevelStr)
		logLevel = slog.LevelInfo
	}

	return &Config{
		ServerPort:    viper.GetString("SERVER_PORT"),
		APIToken:      viper.GetString("API_TOKEN"),
		LogLevel:      logLevel,
		LogFormat:     viper.GetString("LOG_FORMAT"),
		LogOutput:     viper.GetString("LOG_OUTPUT"),
		ReviewURL:     viper.GetString("REVIEW_URL"),
		ReviewToken:   viper.GetString("REVIEW_TOKEN"),
		PrimaryPath:   viper.GetString("PRIMARY_PATH"),
		SecondaryPath: viper.GetString("SECONDARY_PATH"),
		MapperURL:     viper.GetString("MAPPER_URL"),
		MirrorBranch:  viper.GetString("MIRROR_BRANCH"),
		MaxWorkers:    viper.GetInt("MAX_WORKERS"),
		DBHost:        viper.GetString("DB_HOST"),
		DBPort:        viper.GetInt("DB_PORT"),
		DBUser:        viper.GetString("DB_USER"),
		DBPassword:    viper.GetString("DB_PASSWORD"),
		DBName:        viper.GetString("DB_NAME"),
	}, nil
}

// Mirroring reports whether a secondary backend is configured. Both the
// working copy and the mapper service are required for mirroring.
func (c *Config) Mirroring() bool {
	return c.SecondaryPath != "" && c.MapperURL != ""
}
