// Package config assembles service configuration from an optional YAML
// file with environment variable overrides. Environment wins, so deployed
// instances can share a file and differ only in injected secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/illmade-knight/go-bqbridge/pkg/bqstore"
	"github.com/illmade-knight/go-bqbridge/pkg/buffer"
	"github.com/illmade-knight/go-bqbridge/pkg/pipeline"
	"github.com/illmade-knight/go-bqbridge/pkg/rabbitmq"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	HTTPPort    int    `yaml:"http_port"`
	LogLevel    string `yaml:"log_level"`
	BatchSize   int    `yaml:"batch_size"`
	MaxMessages int    `yaml:"max_messages"`

	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	BigQuery BigQuery `yaml:"bigquery"`
}

// RabbitMQ holds the queue connection section.
type RabbitMQ struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	VHost              string `yaml:"vhost"`
	Queue              string `yaml:"queue"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	UseTLS             *bool  `yaml:"use_tls"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
}

// BigQuery holds the warehouse destination section.
type BigQuery struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		HTTPPort:    8080,
		LogLevel:    "info",
		BatchSize:   buffer.DefaultBatchSize,
		MaxMessages: pipeline.DefaultMaxMessages,
		RabbitMQ: RabbitMQ{
			Port:  5671,
			VHost: "/",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.RabbitMQ.Host, "RABBITMQ_HOST")
	setString(&c.RabbitMQ.VHost, "RABBITMQ_VHOST")
	setString(&c.RabbitMQ.Queue, "RABBITMQ_QUEUE")
	setString(&c.RabbitMQ.Username, "RABBITMQ_USERNAME")
	setString(&c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	setString(&c.BigQuery.ProjectID, "GCP_PROJECT_ID")
	setString(&c.BigQuery.DatasetID, "BQ_DATASET")
	setString(&c.BigQuery.CredentialsFile, "GCP_BQ_CREDENTIALS_FILE")
	setString(&c.LogLevel, "LOG_LEVEL")

	if err := setInt(&c.RabbitMQ.Port, "RABBITMQ_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.HTTPPort, "PORT"); err != nil {
		return err
	}
	if err := setInt(&c.BatchSize, "BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.MaxMessages, "MAX_MESSAGES"); err != nil {
		return err
	}

	if v := os.Getenv("RABBITMQ_USE_TLS"); v != "" {
		useTLS := v != "false"
		c.RabbitMQ.UseTLS = &useTLS
	}
	if v := os.Getenv("RABBITMQ_INSECURE_SKIP_VERIFY"); v != "" {
		skipVerify := v != "false"
		c.RabbitMQ.InsecureSkipVerify = &skipVerify
	}
	return nil
}

// Validate checks that the sections required to run are present.
func (c *Config) Validate() error {
	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is not configured")
	}
	if c.RabbitMQ.Queue == "" {
		return errors.New("rabbitmq queue is not configured")
	}
	if c.BigQuery.ProjectID == "" {
		return errors.New("bigquery project id is not configured")
	}
	if c.BigQuery.DatasetID == "" {
		return errors.New("bigquery dataset is not configured")
	}
	return nil
}

// RabbitConfig converts the section into the consumer's config, applying
// the section's TLS defaults (on, with verification relaxed).
func (c *Config) RabbitConfig() *rabbitmq.Config {
	useTLS := true
	if c.RabbitMQ.UseTLS != nil {
		useTLS = *c.RabbitMQ.UseTLS
	}
	skipVerify := true
	if c.RabbitMQ.InsecureSkipVerify != nil {
		skipVerify = *c.RabbitMQ.InsecureSkipVerify
	}
	return &rabbitmq.Config{
		Host:               c.RabbitMQ.Host,
		Port:               c.RabbitMQ.Port,
		VHost:              c.RabbitMQ.VHost,
		Queue:              c.RabbitMQ.Queue,
		Username:           c.RabbitMQ.Username,
		Password:           c.RabbitMQ.Password,
		UseTLS:             useTLS,
		InsecureSkipVerify: skipVerify,
	}
}

// BigQueryConfig converts the warehouse section.
func (c *Config) BigQueryConfig() *bqstore.BigQueryConfig {
	return &bqstore.BigQueryConfig{
		ProjectID:       c.BigQuery.ProjectID,
		DatasetID:       c.BigQuery.DatasetID,
		CredentialsFile: c.BigQuery.CredentialsFile,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}
