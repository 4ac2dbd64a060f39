package core

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	SourceKindHTTP = "http"
	SourceKindFile = "file"

	StoreDriverMemory   = "memory"
	StoreDriverSQLite   = "sqlite3"
	StoreDriverPostgres = "postgres"
)

type LogConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type AuthConfig struct {
	TokenEndpoint         string `koanf:"token_endpoint" mapstructure:"token_endpoint"`
	ClientID              string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret          string `koanf:"client_secret" mapstructure:"client_secret"`
	Username              string `koanf:"username" mapstructure:"username"`
	Password              string `koanf:"password" mapstructure:"password"`
	ExpiryMarginSeconds   int    `koanf:"expiry_margin_seconds" mapstructure:"expiry_margin_seconds"`
	DefaultTTLSeconds     int    `koanf:"default_ttl_seconds" mapstructure:"default_ttl_seconds"`
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

func (c AuthConfig) Credentials() Credentials {
	return Credentials{
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Username:      c.Username,
		Password:      c.Password,
		TokenEndpoint: c.TokenEndpoint,
	}.Normalize()
}

func (c AuthConfig) ExpiryMargin() time.Duration {
	return time.Duration(c.ExpiryMarginSeconds) * time.Second
}

func (c AuthConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c AuthConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c AuthConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TokenEndpoint, validation.Required),
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.ExpiryMarginSeconds, validation.Min(0)),
		validation.Field(&c.DefaultTTLSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.RequestTimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

type SubscriptionConfig struct {
	Description       string            `koanf:"description" mapstructure:"description"`
	EntityType        string            `koanf:"entity_type" mapstructure:"entity_type"`
	ConditionAttrs    []string          `koanf:"condition_attrs" mapstructure:"condition_attrs"`
	NotifyAttrs       []string          `koanf:"notify_attrs" mapstructure:"notify_attrs"`
	ExceptAttrs       bool              `koanf:"except_attrs" mapstructure:"except_attrs"`
	NotifyURL         string            `koanf:"notify_url" mapstructure:"notify_url"`
	NotifyHeaders     map[string]string `koanf:"notify_headers" mapstructure:"notify_headers"`
	Expires           string            `koanf:"expires" mapstructure:"expires"`
	ThrottlingSeconds int               `koanf:"throttling_seconds" mapstructure:"throttling_seconds"`
}

func (c SubscriptionConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Description, validation.Required),
		validation.Field(&c.EntityType, validation.Required),
		validation.Field(&c.NotifyURL, validation.Required),
		validation.Field(&c.ThrottlingSeconds, validation.Min(0)),
	)
}

type BrokerConfig struct {
	BaseURL               string               `koanf:"base_url" mapstructure:"base_url"`
	Service               string               `koanf:"service" mapstructure:"service"`
	ServicePath           string               `koanf:"service_path" mapstructure:"service_path"`
	TokenHeader           string               `koanf:"token_header" mapstructure:"token_header"`
	RequestTimeoutSeconds int                  `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxAttempts           int                  `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMillis  int                  `koanf:"initial_backoff_millis" mapstructure:"initial_backoff_millis"`
	MaxBackoffMillis      int                  `koanf:"max_backoff_millis" mapstructure:"max_backoff_millis"`
	MaxPayloadBytes       int                  `koanf:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	Subscriptions         []SubscriptionConfig `koanf:"subscriptions" mapstructure:"subscriptions"`
}

func (c BrokerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c BrokerConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

func (c BrokerConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMillis) * time.Millisecond
}

func (c BrokerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.RequestTimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.InitialBackoffMillis, validation.Min(0)),
		validation.Field(&c.MaxBackoffMillis, validation.Min(0)),
		validation.Field(&c.MaxPayloadBytes, validation.Required, validation.Min(1024)),
		validation.Field(&c.Subscriptions),
	)
}

type SourceConfig struct {
	Kind                  string `koanf:"kind" mapstructure:"kind"`
	URL                   string `koanf:"url" mapstructure:"url"`
	APIKeyHeader          string `koanf:"api_key_header" mapstructure:"api_key_header"`
	APIKey                string `koanf:"api_key" mapstructure:"api_key"`
	RecordsPath           string `koanf:"records_path" mapstructure:"records_path"`
	IDField               string `koanf:"id_field" mapstructure:"id_field"`
	FilePath              string `koanf:"file_path" mapstructure:"file_path"`
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

func (c SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c SourceConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceKindHTTP, SourceKindFile)),
		validation.Field(&c.URL, validation.When(c.Kind == SourceKindHTTP, validation.Required)),
		validation.Field(&c.FilePath, validation.When(c.Kind == SourceKindFile, validation.Required)),
		validation.Field(&c.IDField, validation.Required),
		validation.Field(&c.RequestTimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

type AttributeRule struct {
	Name      string         `koanf:"name" mapstructure:"name"`
	Source    string         `koanf:"source" mapstructure:"source"`
	Type      string         `koanf:"type" mapstructure:"type"`
	Transform string         `koanf:"transform" mapstructure:"transform"`
	Required  bool           `koanf:"required" mapstructure:"required"`
	Default   any            `koanf:"default" mapstructure:"default"`
	Metadata  map[string]any `koanf:"metadata" mapstructure:"metadata"`
}

func (r AttributeRule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.NotIn("id", "type")),
	)
}

type MappingConfig struct {
	EntityType string          `koanf:"entity_type" mapstructure:"entity_type"`
	IDField    string          `koanf:"id_field" mapstructure:"id_field"`
	IDTemplate string          `koanf:"id_template" mapstructure:"id_template"`
	Attributes []AttributeRule `koanf:"attributes" mapstructure:"attributes"`
}

func (c MappingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.EntityType, validation.Required),
		validation.Field(&c.Attributes),
	)
}

type SyncConfig struct {
	IntervalSeconds        int    `koanf:"interval_seconds" mapstructure:"interval_seconds"`
	Schedule               string `koanf:"schedule" mapstructure:"schedule"`
	Workers                int    `koanf:"workers" mapstructure:"workers"`
	Batch                  bool   `koanf:"batch" mapstructure:"batch"`
	ShutdownGraceSeconds   int    `koanf:"shutdown_grace_seconds" mapstructure:"shutdown_grace_seconds"`
	FailureBackoffSeconds  int    `koanf:"failure_backoff_seconds" mapstructure:"failure_backoff_seconds"`
	MaxConsecutiveFailures int    `koanf:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c SyncConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func (c SyncConfig) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffSeconds) * time.Second
}

func (c SyncConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.IntervalSeconds, validation.When(strings.TrimSpace(c.Schedule) == "", validation.Required, validation.Min(1))),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.ShutdownGraceSeconds, validation.Min(0)),
		validation.Field(&c.FailureBackoffSeconds, validation.Min(0)),
		validation.Field(&c.MaxConsecutiveFailures, validation.Min(0)),
	)
}

type StoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(StoreDriverMemory, StoreDriverSQLite, StoreDriverPostgres)),
		validation.Field(&c.DSN, validation.When(c.Driver != StoreDriverMemory, validation.Required)),
	)
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Log         LogConfig     `koanf:"log" mapstructure:"log"`
	Auth        AuthConfig    `koanf:"auth" mapstructure:"auth"`
	Broker      BrokerConfig  `koanf:"broker" mapstructure:"broker"`
	Source      SourceConfig  `koanf:"source" mapstructure:"source"`
	Mapping     MappingConfig `koanf:"mapping" mapstructure:"mapping"`
	Sync        SyncConfig    `koanf:"sync" mapstructure:"sync"`
	Store       StoreConfig   `koanf:"store" mapstructure:"store"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "fiware-sync",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			ExpiryMarginSeconds:   30,
			DefaultTTLSeconds:     3600,
			RequestTimeoutSeconds: 10,
		},
		Broker: BrokerConfig{
			RequestTimeoutSeconds: 10,
			MaxAttempts:           3,
			InitialBackoffMillis:  500,
			MaxBackoffMillis:      5000,
			MaxPayloadBytes:       400000,
		},
		Source: SourceConfig{
			Kind:                  SourceKindHTTP,
			IDField:               "id",
			RequestTimeoutSeconds: 30,
		},
		Mapping: MappingConfig{
			IDTemplate: "{id}",
		},
		Sync: SyncConfig{
			IntervalSeconds:       300,
			Workers:               4,
			ShutdownGraceSeconds:  10,
			FailureBackoffSeconds: 60,
		},
		Store: StoreConfig{
			Driver: StoreDriverMemory,
		},
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Log),
		validation.Field(&c.Auth),
		validation.Field(&c.Broker),
		validation.Field(&c.Source),
		validation.Field(&c.Mapping),
		validation.Field(&c.Sync),
		validation.Field(&c.Store),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "console")),
	)
}
