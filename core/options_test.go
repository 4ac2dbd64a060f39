package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCfgxConfigProvider_LayersDefaultsConfigAndRuntime(t *testing.T) {
	raw := validRawConfig()
	raw["sync"] = map[string]any{"workers": 8, "interval_seconds": 60}

	provider := NewCfgxConfigProvider(StaticConfigLoader{Values: raw}).
		WithRuntime(map[string]any{"sync": map[string]any{"interval_seconds": 15}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Sync.Workers != 8 {
		t.Fatalf("expected workers from config layer, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.IntervalSeconds != 15 {
		t.Fatalf("expected runtime interval override, got %d", cfg.Sync.IntervalSeconds)
	}
	if cfg.Broker.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts, got %d", cfg.Broker.MaxAttempts)
	}
	if cfg.Mapping.IDTemplate != "{id}" {
		t.Fatalf("expected default id template, got %q", cfg.Mapping.IDTemplate)
	}
	if cfg.Auth.ClientID != "client" {
		t.Fatalf("expected client id from config, got %q", cfg.Auth.ClientID)
	}
}

func TestCfgxConfigProvider_RejectsInvalidConfig(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader{})
	if _, err := provider.Load(context.Background(), DefaultConfig()); err == nil {
		t.Fatalf("expected validation failure without endpoints")
	}
}

func TestFileConfigLoader_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
auth:
  token_endpoint: http://keyrock.local/oauth2/token
  client_id: client
  username: sync@example.org
  password: env:SYNC_PASSWORD
broker:
  base_url: http://orion.local
  service: smartcity
  service_path: /lights
source:
  url: http://source.local/lights
mapping:
  entity_type: Streetlight
  attributes:
    - name: status
      source: state
      type: Text
    - name: location
      source: coords
      transform: geo_point
sync:
  workers: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewCfgxConfigProvider(FileConfigLoader{Path: path}).Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Broker.Service != "smartcity" || cfg.Broker.ServicePath != "/lights" {
		t.Fatalf("unexpected broker tenancy %+v", cfg.Broker)
	}
	if len(cfg.Mapping.Attributes) != 2 {
		t.Fatalf("expected 2 attribute rules, got %d", len(cfg.Mapping.Attributes))
	}
	if cfg.Mapping.Attributes[1].Transform != "geo_point" {
		t.Fatalf("unexpected transform %q", cfg.Mapping.Attributes[1].Transform)
	}
	if cfg.Auth.Password != "env:SYNC_PASSWORD" {
		t.Fatalf("expected secret ref to stay unresolved, got %q", cfg.Auth.Password)
	}
	if cfg.Sync.Workers != 2 {
		t.Fatalf("expected workers=2, got %d", cfg.Sync.Workers)
	}
}

func TestFileConfigLoader_MissingFile(t *testing.T) {
	_, err := FileConfigLoader{Path: filepath.Join(t.TempDir(), "missing.yaml")}.LoadRaw(context.Background())
	if err == nil {
		t.Fatalf("expected missing file error")
	}
}
