package config

import (
	"importdeck/pkg/logger"

	"github.com/spf13/viper"
)

type Config struct {
	GeneralVersion      string `mapstructure:"GENERAL_VERSION"`
	Environment         string `mapstructure:"ENVIRONMENT"`
	ServerPort          int    `mapstructure:"SERVER_PORT"`
	ImportAPIURL        string `mapstructure:"IMPORT_API_URL"`
	ImportWSURL         string `mapstructure:"IMPORT_WS_URL"`
	PollIntervalSeconds int    `mapstructure:"POLL_INTERVAL_SECONDS"`
	JobWindowLimit      int    `mapstructure:"JOB_WINDOW_LIMIT"`
	CorsAllowOrigins    string `mapstructure:"CORS_ALLOW_ORIGINS"`
	SchedulerEnabled    bool   `mapstructure:"SCHEDULER_ENABLED"`
}

const (
	DefaultPollIntervalSeconds = 5
	DefaultJobWindowLimit      = 5
)

var ConfigInstance Config

func New() (Config, error) {
	log := logger.New("config").Function("New")
	log.Info("Initializing config")

	// Enable automatic environment variable reading first
	viper.AutomaticEnv()

	// Bind environment variables to config keys
	envVars := []string{
		"GENERAL_VERSION", "ENVIRONMENT", "SERVER_PORT",
		"IMPORT_API_URL", "IMPORT_WS_URL",
		"POLL_INTERVAL_SECONDS", "JOB_WINDOW_LIMIT",
		"CORS_ALLOW_ORIGINS", "SCHEDULER_ENABLED",
	}

	for _, env := range envVars {
		if err := viper.BindEnv(env); err != nil {
			log.Warn("Failed to bind environment variable", "env", env, "error", err)
		}
	}

	viper.SetDefault("POLL_INTERVAL_SECONDS", DefaultPollIntervalSeconds)
	viper.SetDefault("JOB_WINDOW_LIMIT", DefaultJobWindowLimit)
	viper.SetDefault("SCHEDULER_ENABLED", true)

	// Check if key environment variables are already set
	envVarsSet := viper.IsSet("SERVER_PORT") && viper.IsSet("IMPORT_API_URL")

	if envVarsSet {
		log.Info("Environment variables detected, skipping file loading")
	} else {
		log.Info("Environment variables not found, attempting to load from files")

		// Load base .env file
		viper.SetConfigFile(".env")
		viper.SetConfigType("env")

		if err := viper.ReadInConfig(); err != nil {
			log.Warn("Could not find .env file", "error", err)
		} else {
			log.Info("Loaded .env file")
		}

		// Load .env.local overrides if it exists
		viper.SetConfigFile(".env.local")
		if err := viper.MergeInConfig(); err != nil {
			log.Debug("No .env.local file found", "error", err)
		} else {
			log.Info("Loaded .env.local overrides")
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, log.Err("Fatal error: could not unmarshal config", err)
	}

	log.Info("Successfully initialized config", "config", config)
	err := validateConfig(config, log)
	if err != nil {
		return Config{}, err
	}
	return ConfigInstance, nil
}

func GetConfig() Config {
	return ConfigInstance
}

func validateConfig(config Config, log logger.Logger) error {
	if config.ServerPort <= 0 {
		return log.Error(
			"Fatal error: invalid server port",
			"port", config.ServerPort,
		)
	}

	if config.ImportAPIURL == "" {
		return log.ErrMsg("Fatal error: IMPORT_API_URL is required")
	}

	if config.ImportWSURL == "" {
		return log.ErrMsg("Fatal error: IMPORT_WS_URL is required")
	}

	if config.PollIntervalSeconds <= 0 {
		return log.Error(
			"Fatal error: invalid poll interval",
			"seconds", config.PollIntervalSeconds,
		)
	}

	if config.JobWindowLimit <= 0 {
		return log.Error(
			"Fatal error: invalid job window limit",
			"limit", config.JobWindowLimit,
		)
	}

	ConfigInstance = config
	return nil
}
