package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fiwaresync "github.com/goliatone/go-fiware-sync"
	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/security"
)

func writeConfig(t *testing.T, tokenEndpoint, brokerURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	lights := filepath.Join(dir, "lights.yaml")
	if err := os.WriteFile(lights, []byte("- id: light-1\n  status: \"on\"\n"), 0o600); err != nil {
		t.Fatalf("write lights: %v", err)
	}
	doc := fmt.Sprintf(`
log:
  level: error
auth:
  token_endpoint: %s
  client_id: sync-client
  client_secret: sync-secret
  username: sync@example.com
  password: s3cret
broker:
  base_url: %s
  initial_backoff_millis: 1
  max_backoff_millis: 1
source:
  kind: file
  file_path: %s
mapping:
  entity_type: StreetLight
%s`, tokenEndpoint, brokerURL, lights, extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newKeyrock(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok","refresh_token":"ref","expires_in":3600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func newOrion(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRun_EncryptPrintsReference(t *testing.T) {
	t.Setenv(security.AppKeyEnv, "cli-app-key")
	var stdout, stderr bytes.Buffer

	if code := run(context.Background(), []string{"-encrypt", "s3cret"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	ref := strings.TrimSpace(stdout.String())
	provider, _ := security.NewAppKeySecretProviderFromString("cli-app-key")
	value, err := provider.DecryptRef(context.Background(), ref)
	if err != nil || value != "s3cret" {
		t.Fatalf("unexpected decrypted value %q %v", value, err)
	}
}

func TestRun_EncryptRequiresAppKey(t *testing.T) {
	t.Setenv(security.AppKeyEnv, "")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-encrypt", "s3cret"}, &stdout, &stderr); code != exitStartup {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRun_InvalidConfigExitsStartup(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("service_name: fiware-sync\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if code := run(context.Background(), []string{"-config", path}, &stdout, &stderr); code != exitStartup {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load config") {
		t.Fatalf("expected config error on stderr, got %q", stderr.String())
	}
}

func TestRun_AuthFailureExitsTwo(t *testing.T) {
	isTerminal = func(int) bool { return false }
	keyrock := newKeyrock(t, http.StatusUnauthorized)
	orion := newOrion(t)
	path := writeConfig(t, keyrock.URL, orion.URL, "")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path, "-once"}, &stdout, &stderr); code != exitAuth {
		t.Fatalf("expected exit 2, got %d: %s", code, stderr.String())
	}
}

func TestRun_OnceSucceeds(t *testing.T) {
	isTerminal = func(int) bool { return false }
	keyrock := newKeyrock(t, http.StatusOK)
	orion := newOrion(t)
	path := writeConfig(t, keyrock.URL, orion.URL, "")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path, "-once", "-interval", "30"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"pushed":1`) {
		t.Fatalf("expected report on stdout, got %q", stdout.String())
	}
}

func TestRun_PromptsForMissingPassword(t *testing.T) {
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }
	t.Cleanup(func() { isTerminal = func(int) bool { return false } })

	keyrock := newKeyrock(t, http.StatusOK)
	orion := newOrion(t)
	path := writeConfig(t, keyrock.URL, orion.URL, "")
	contents, _ := os.ReadFile(path)
	_ = os.WriteFile(path, bytes.ReplaceAll(contents, []byte("password: s3cret"), []byte("password: \"\"")), 0o600)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path, "-once"}, &stdout, &stderr); code != exitStartup {
		t.Fatalf("expected exit 1 when the prompt fails, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Password for sync@example.com") {
		t.Fatalf("expected password prompt, got %q", stderr.String())
	}
}

func TestRun_SubscriptionFailureAtStartupExitsOne(t *testing.T) {
	isTerminal = func(int) bool { return false }
	keyrock := newKeyrock(t, http.StatusOK)
	orion := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(orion.Close)
	path := writeConfig(t, keyrock.URL, orion.URL, "")
	contents, _ := os.ReadFile(path)
	subscription := "  max_backoff_millis: 1\n" +
		"  subscriptions:\n" +
		"    - description: power\n" +
		"      entity_type: StreetLight\n" +
		"      notify_url: http://quantumleap:8668/v2/notify\n"
	_ = os.WriteFile(path, bytes.Replace(contents, []byte("  max_backoff_millis: 1\n"), []byte(subscription), 1), 0o600)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path, "-once"}, &stdout, &stderr); code != exitStartup {
		t.Fatalf("expected exit 1, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), `ensure subscription "power"`) {
		t.Fatalf("expected subscription error on stderr, got %q", stderr.String())
	}
}

func TestStartupExitCode(t *testing.T) {
	if got := startupExitCode(fmt.Errorf("%w: %w", fiwaresync.ErrInitialAuth, core.NewAuthError("denied", nil))); got != exitAuth {
		t.Fatalf("expected initial auth failure to exit 2, got %d", got)
	}
	if got := startupExitCode(fmt.Errorf("ensure subscription: %w", core.NewTransientError("broker unavailable", nil))); got != exitStartup {
		t.Fatalf("expected typed startup failure to exit 1, got %d", got)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("%w: %w", fiwaresync.ErrInitialAuth, core.NewAuthError("denied", nil)), exitAuth},
		{fmt.Errorf("%w: 3", fiwaresync.ErrTooManyFailures), exitAborted},
		{core.NewTransientError("source offline", nil), exitAborted},
		{errors.New("broker: base url is required"), exitStartup},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestParseFlags_OnlyVisitedFlagsOverride(t *testing.T) {
	_, overrides, err := parseFlags([]string{"-store-driver", "sqlite3", "-store-dsn", "file:sync.db"}, io.Discard)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	store, ok := overrides["store"].(map[string]any)
	if !ok || store["driver"] != "sqlite3" || store["dsn"] != "file:sync.db" {
		t.Fatalf("unexpected store overrides %#v", overrides)
	}
	if _, ok := overrides["sync"]; ok {
		t.Fatalf("expected unset interval to stay out of overrides")
	}
}
