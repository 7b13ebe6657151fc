// Package config handles configuration for the authentication server:
// defaults, an optional YAML file overlaid with environment variables, and
// finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/flagx"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds runtime settings for the authentication server.
//
// An empty DatabaseDSN selects the in-memory stores and an empty Redis.Addr
// selects the in-memory revocation list; both are meant for local runs only.
type Config struct {
	Env                          string        `yaml:"env" env:"ENV"`
	EndpointAddrHTTP             string        `yaml:"endpoint_addr_http" env:"ENDPOINT_ADDR_HTTP"`
	EndpointAddrGRPC             string        `yaml:"endpoint_addr_grpc" env:"ENDPOINT_ADDR_GRPC"`
	DatabaseDSN                  string        `yaml:"database_dsn" env:"DATABASE_DSN"`
	SecretKey                    string        `yaml:"secret_key" env:"JWT_SECRET_KEY"`
	Issuer                       string        `yaml:"issuer" env:"JWT_ISSUER"`
	Audience                     string        `yaml:"audience" env:"JWT_AUDIENCE"`
	AccessTokenValidityDuration  time.Duration `yaml:"access_token_validity_duration" env:"ACCESS_TOKEN_VALIDITY"`
	RefreshTokenValidityDuration time.Duration `yaml:"refresh_token_validity_duration" env:"REFRESH_TOKEN_VALIDITY"`

	Redis     RedisConfig     `yaml:"redis"`
	SMS       SMSConfig       `yaml:"sms"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Google    GoogleConfig    `yaml:"google"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	S3        S3Config        `yaml:"s3"`
	Retention RetentionConfig `yaml:"retention"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type SMSConfig struct {
	GatewayURL         string        `yaml:"gateway_url" env:"SMS_GATEWAY_URL"`
	APIKey             string        `yaml:"api_key" env:"SMS_API_KEY"`
	Sender             string        `yaml:"sender" env:"SMS_SENDER"`
	DefaultCountryCode string        `yaml:"default_country_code" env:"SMS_DEFAULT_COUNTRY_CODE"`
	Timeout            time.Duration `yaml:"timeout" env:"SMS_TIMEOUT"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URL"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

type S3Config struct {
	AccessKey    string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket       string `yaml:"bucket" env:"S3_BUCKET"`
	Region       string `yaml:"region" env:"S3_REGION"`
	BaseEndpoint string `yaml:"base_endpoint" env:"S3_BASE_ENDPOINT"`
}

// RetentionConfig drives the sweep of expired OTP and session rows.
// A zero Interval disables the in-process sweeper.
type RetentionConfig struct {
	Interval time.Duration `yaml:"interval" env:"RETENTION_INTERVAL"`
	Age      time.Duration `yaml:"age" env:"RETENTION_AGE"`
}

// LoadDefaults populates Config with development defaults. The signing
// secret has no default on purpose: it must be configured.
func (c *Config) LoadDefaults() {
	c.Env = "local"
	c.EndpointAddrHTTP = ":8080"
	c.EndpointAddrGRPC = ":50051"
	c.Issuer = "waterdelivery-auth"
	c.Audience = "waterdelivery-app"
	c.AccessTokenValidityDuration = 30 * time.Minute
	c.RefreshTokenValidityDuration = 7 * 24 * time.Hour
	c.SMS.Sender = "WaterDelivery"
	c.SMS.DefaultCountryCode = "+84"
	c.SMS.Timeout = 10 * time.Second
	c.SMTP.Port = 587
	c.Kafka.Topic = "auth-events"
	c.S3.Bucket = "auth-archive"
	c.S3.Region = "us-east-1"
	c.Retention.Age = 30 * 24 * time.Hour
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("jwt secret key is not configured"))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("jwt issuer is not configured"))
	}
	if c.Audience == "" {
		errs = append(errs, errors.New("jwt audience is not configured"))
	}
	if c.AccessTokenValidityDuration <= 0 || c.RefreshTokenValidityDuration <= 0 {
		errs = append(errs, errors.New("token validity durations must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then the YAML file (if
// any) together with environment variables, then command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := readSources(cfg, flagx.ConfigFilePath()); err != nil {
		return nil, err
	}
	parseFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readSources overlays the config file and the environment onto cfg.
// Fields absent from both keep their current values.
func readSources(cfg *Config, path string) error {
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("error reading environment: %w", err)
		}
		return nil
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}
