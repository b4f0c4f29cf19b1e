package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "NOTIFLOW"

// Config holds the configuration for notiflow.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	DB       struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	HTTP struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"http"`
	Workflow struct {
		// Notifier is "smtp" or "log"
		Notifier      string        `mapstructure:"notifier"`
		OperatorEmail string        `mapstructure:"operator_email"`
		Workers       int           `mapstructure:"workers"`
		QueueSize     int           `mapstructure:"queue_size"`
		TaskTimeout   time.Duration `mapstructure:"task_timeout"`
		Timezone      string        `mapstructure:"timezone"`
		MeetingLink   string        `mapstructure:"meeting_link"`
	} `mapstructure:"workflow"`
	Retry struct {
		MaxAttempts     int           `mapstructure:"max_attempts"`
		InitialInterval time.Duration `mapstructure:"initial_interval"`
		MaxInterval     time.Duration `mapstructure:"max_interval"`
	} `mapstructure:"retry"`
}

// legacy variable names accepted next to the NOTIFLOW_ ones
var legacyEnv = map[string]string{
	"db.host":                 "DB_HOST",
	"db.port":                 "DB_PORT",
	"db.user":                 "DB_USERNAME",
	"db.password":             "DB_PASSWORD",
	"db.name":                 "DB_NAME",
	"smtp.host":               "SMTP_HOST",
	"smtp.port":               "SMTP_PORT",
	"smtp.user":               "SMTP_USER",
	"smtp.password":           "SMTP_PASS",
	"workflow.operator_email": "ADMIN_EMAIL",
	"log_level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "notiflow")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 465)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("http.port", "8080")
	v.SetDefault("workflow.notifier", "smtp")
	v.SetDefault("workflow.operator_email", "")
	v.SetDefault("workflow.workers", 0)
	v.SetDefault("workflow.queue_size", 1024)
	v.SetDefault("workflow.task_timeout", "60s")
	v.SetDefault("workflow.timezone", "UTC")
	v.SetDefault("workflow.meeting_link", "https://meet.google.com/new")
	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_interval", "1s")
	v.SetDefault("retry.max_interval", "30s")
}

// LoadConfig reads an optional .env file, then config.yaml from . or ./config, then
// NOTIFLOW_* environment variables. A missing config file is not an error.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", envFile)
		}
	} else {
		// .env is optional
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
	return &cfg, nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// Location resolves the configured timezone used by recurring schedules.
func (c *Config) Location() (*time.Location, error) {
	if c.Workflow.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Workflow.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q", c.Workflow.Timezone)
	}
	return loc, nil
}
