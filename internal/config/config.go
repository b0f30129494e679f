// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port       string `mapstructure:"PORT"`
	SecretKey  string `mapstructure:"SECRET_KEY"`
	BaseURL    string `mapstructure:"BASE_URL"`
	Env        string `mapstructure:"APP_ENV"`
	BcryptCost int    `mapstructure:"BCRYPT_COST"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	UploadDir string `mapstructure:"UPLOAD_DIR"`

	MailHost     string `mapstructure:"MAIL_HOST"`
	MailPort     int    `mapstructure:"MAIL_PORT"`
	MailUsername string `mapstructure:"MAIL_USERNAME"`
	MailPassword string `mapstructure:"MAIL_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional; defaults and env vars may be enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("No profile-specific config.%s.yml found, using base config and environment", env)
		}
	}

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("SECRET_KEY", "change-me-in-production")
	viper.SetDefault("BASE_URL", "http://localhost:8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("BCRYPT_COST", 0) // 0 means bcrypt.DefaultCost
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "quill")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("UPLOAD_DIR", "./data/profile_pics")
	viper.SetDefault("MAIL_HOST", "localhost")
	viper.SetDefault("MAIL_PORT", 587)
	viper.SetDefault("MAIL_USERNAME", "")
	viper.SetDefault("MAIL_PASSWORD", "")
	viper.SetDefault("MAIL_FROM", "noreply@quill.local")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}

	if c.IsProduction() {
		if c.SecretKey == "change-me-in-production" {
			return errors.New("SECRET_KEY must be changed from the default value in production")
		}
		if len(c.SecretKey) < 32 {
			return errors.New("SECRET_KEY must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.MailUsername == "" || c.MailPassword == "" {
			log.Println("WARNING: MAIL_USERNAME/MAIL_PASSWORD are empty in production. Password reset emails will likely be rejected by the SMTP server.")
		}
	} else {
		if len(c.SecretKey) < 32 {
			log.Println("WARNING: SECRET_KEY is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}

// IsProduction reports whether the configuration targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
