package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded map[string]any, runtime map[string]any) (Config, error)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// FileConfigLoader reads a YAML (or JSON) document into a raw config map.
type FileConfigLoader struct {
	Path string
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return raw, nil
}

// CfgxConfigProvider layers the loaded document and runtime overrides on top
// of the defaults and decodes the result through cfgx.
type CfgxConfigProvider struct {
	Loader   RawConfigLoader
	Runtime  map[string]any
	Resolver OptionsResolver
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader, Resolver: GoOptionsResolver{}}
}

func (p *CfgxConfigProvider) WithRuntime(overrides map[string]any) *CfgxConfigProvider {
	if p == nil {
		return nil
	}
	p.Runtime = overrides
	return p
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	resolver := p.Resolver
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	return resolver.Resolve(defaults, raw, p.Runtime)
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded map[string]any, runtime map[string]any) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			normalizeRawMap(loaded),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			normalizeRawMap(runtime),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config) map[string]any {
	subscriptions := make([]any, 0, len(cfg.Broker.Subscriptions))
	for _, sub := range cfg.Broker.Subscriptions {
		subscriptions = append(subscriptions, map[string]any{
			"description":        sub.Description,
			"entity_type":        sub.EntityType,
			"condition_attrs":    append([]string(nil), sub.ConditionAttrs...),
			"notify_attrs":       append([]string(nil), sub.NotifyAttrs...),
			"except_attrs":       sub.ExceptAttrs,
			"notify_url":         sub.NotifyURL,
			"notify_headers":     copyStringMap(sub.NotifyHeaders),
			"expires":            sub.Expires,
			"throttling_seconds": sub.ThrottlingSeconds,
		})
	}
	attributes := make([]any, 0, len(cfg.Mapping.Attributes))
	for _, rule := range cfg.Mapping.Attributes {
		attributes = append(attributes, map[string]any{
			"name":      rule.Name,
			"source":    rule.Source,
			"type":      rule.Type,
			"transform": rule.Transform,
			"required":  rule.Required,
			"default":   rule.Default,
			"metadata":  rule.Metadata,
		})
	}

	return map[string]any{
		"service_name": cfg.ServiceName,
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"auth": map[string]any{
			"token_endpoint":          cfg.Auth.TokenEndpoint,
			"client_id":               cfg.Auth.ClientID,
			"client_secret":           cfg.Auth.ClientSecret,
			"username":                cfg.Auth.Username,
			"password":                cfg.Auth.Password,
			"expiry_margin_seconds":   cfg.Auth.ExpiryMarginSeconds,
			"default_ttl_seconds":     cfg.Auth.DefaultTTLSeconds,
			"request_timeout_seconds": cfg.Auth.RequestTimeoutSeconds,
		},
		"broker": map[string]any{
			"base_url":                cfg.Broker.BaseURL,
			"service":                 cfg.Broker.Service,
			"service_path":            cfg.Broker.ServicePath,
			"token_header":            cfg.Broker.TokenHeader,
			"request_timeout_seconds": cfg.Broker.RequestTimeoutSeconds,
			"max_attempts":            cfg.Broker.MaxAttempts,
			"initial_backoff_millis":  cfg.Broker.InitialBackoffMillis,
			"max_backoff_millis":      cfg.Broker.MaxBackoffMillis,
			"max_payload_bytes":       cfg.Broker.MaxPayloadBytes,
			"subscriptions":           subscriptions,
		},
		"source": map[string]any{
			"kind":                    cfg.Source.Kind,
			"url":                     cfg.Source.URL,
			"api_key_header":          cfg.Source.APIKeyHeader,
			"api_key":                 cfg.Source.APIKey,
			"records_path":            cfg.Source.RecordsPath,
			"id_field":                cfg.Source.IDField,
			"file_path":               cfg.Source.FilePath,
			"request_timeout_seconds": cfg.Source.RequestTimeoutSeconds,
		},
		"mapping": map[string]any{
			"entity_type": cfg.Mapping.EntityType,
			"id_field":    cfg.Mapping.IDField,
			"id_template": cfg.Mapping.IDTemplate,
			"attributes":  attributes,
		},
		"sync": map[string]any{
			"interval_seconds":         cfg.Sync.IntervalSeconds,
			"schedule":                 cfg.Sync.Schedule,
			"workers":                  cfg.Sync.Workers,
			"batch":                    cfg.Sync.Batch,
			"shutdown_grace_seconds":   cfg.Sync.ShutdownGraceSeconds,
			"failure_backoff_seconds":  cfg.Sync.FailureBackoffSeconds,
			"max_consecutive_failures": cfg.Sync.MaxConsecutiveFailures,
		},
		"store": map[string]any{
			"driver": cfg.Store.Driver,
			"dsn":    cfg.Store.DSN,
			"debug":  cfg.Store.Debug,
		},
	}
}

// normalizeRawMap converts the map[any]any nodes some decoders produce so
// every nested object is a map[string]any.
func normalizeRawMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[strings.TrimSpace(key)] = normalizeRawValue(value)
	}
	return out
}

func normalizeRawValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalizeRawMap(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[strings.TrimSpace(fmt.Sprint(key))] = normalizeRawValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeRawValue(nested)
		}
		return out
	default:
		return value
	}
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
