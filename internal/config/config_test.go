package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: tower
relay:
  url: wss://relay.example.com/ws
  subprotocol: graphql-ws
  enabled: false
credentials:
  api_key: abc123
local:
  graphql_url: http://127.0.0.1:8080/graphql
subscriptions:
  coalesce_window: 500ms
  high_churn_fields: [dashboard, array]
journal:
  driver: sqlite
  sqlite_path: /var/lib/relaylink/journal.db
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "tower" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "tower")
	}
	if cfg.Relay.URL != "wss://relay.example.com/ws" {
		t.Errorf("Relay.URL = %q, want %q", cfg.Relay.URL, "wss://relay.example.com/ws")
	}
	if cfg.Relay.Subprotocol != "graphql-ws" {
		t.Errorf("Relay.Subprotocol = %q, want %q", cfg.Relay.Subprotocol, "graphql-ws")
	}
	if cfg.Relay.ShouldConnect() {
		t.Error("Relay.ShouldConnect() = true, want false")
	}
	if cfg.Subscriptions.CoalesceWindow != 500*time.Millisecond {
		t.Errorf("Subscriptions.CoalesceWindow = %v, want %v", cfg.Subscriptions.CoalesceWindow, 500*time.Millisecond)
	}
	if len(cfg.Subscriptions.HighChurnFields) != 2 {
		t.Errorf("Subscriptions.HighChurnFields = %v, want 2 fields", cfg.Subscriptions.HighChurnFields)
	}
	if cfg.Journal.SQLitePath != "/var/lib/relaylink/journal.db" {
		t.Errorf("Journal.SQLitePath = %q, want %q", cfg.Journal.SQLitePath, "/var/lib/relaylink/journal.db")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_RELAY_KEY", "secret123")

	yaml := `
instance:
  id: tower
credentials:
  api_key: ${TEST_RELAY_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Credentials.APIKey != "secret123" {
		t.Errorf("Credentials.APIKey = %q, want %q", cfg.Credentials.APIKey, "secret123")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "relay: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: tower
relay:
  url: wss://relay.example.com/ws
credentials:
  api_key: abc123
journal:
  driver: postgres
  postgres:
    host: localhost
    name: relay
    user: relay
    password: relay
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if !cfg.Relay.ShouldConnect() {
		t.Error("Relay.ShouldConnect() = false, want true by default")
	}
	if cfg.Relay.KeepAliveInterval != DefaultKeepAliveInterval {
		t.Errorf("Relay.KeepAliveInterval = %v, want default %v", cfg.Relay.KeepAliveInterval, DefaultKeepAliveInterval)
	}
	if cfg.Relay.CheckInterval != DefaultCheckInterval {
		t.Errorf("Relay.CheckInterval = %v, want default %v", cfg.Relay.CheckInterval, DefaultCheckInterval)
	}
	if cfg.Local.GraphQLURL != DefaultLocalGraphQLURL {
		t.Errorf("Local.GraphQLURL = %q, want default %q", cfg.Local.GraphQLURL, DefaultLocalGraphQLURL)
	}
	if len(cfg.Subscriptions.HighChurnFields) != 1 || cfg.Subscriptions.HighChurnFields[0] != "dashboard" {
		t.Errorf("Subscriptions.HighChurnFields = %v, want [dashboard]", cfg.Subscriptions.HighChurnFields)
	}
	if cfg.Journal.Postgres.Port != DefaultDBPort {
		t.Errorf("Journal.Postgres.Port = %d, want default %d", cfg.Journal.Postgres.Port, DefaultDBPort)
	}
	if cfg.Journal.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Journal.Postgres.MaxConns = %d, want default %d", cfg.Journal.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Status.Port != DefaultStatusPort {
		t.Errorf("Status.Port = %d, want default %d", cfg.Status.Port, DefaultStatusPort)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, DefaultLogFormat)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after defaults: %v", err)
	}
}

func TestLoadWithDefaults_EmptyHighChurnListKept(t *testing.T) {
	path := writeTempFile(t, "subscriptions:\n  high_churn_fields: []\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if len(cfg.Subscriptions.HighChurnFields) != 0 {
		t.Errorf("Subscriptions.HighChurnFields = %v, want empty", cfg.Subscriptions.HighChurnFields)
	}
}

func validConfig() RelayConfig {
	cfg := RelayConfig{
		Instance:    InstanceConfig{ID: "tower"},
		Relay:       RelayConnConfig{URL: "wss://relay.example.com/ws"},
		Credentials: CredentialsConfig{APIKey: "abc"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *RelayConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing relay url",
			mutate:  func(c *RelayConfig) { c.Relay.URL = "" },
			wantErr: "relay.url is required",
		},
		{
			name:    "http relay url",
			mutate:  func(c *RelayConfig) { c.Relay.URL = "https://relay.example.com" },
			wantErr: `relay.url must use ws or wss, got "https"`,
		},
		{
			name:    "ping timeout too short",
			mutate:  func(c *RelayConfig) { c.Relay.PingTimeout = c.Relay.PingInterval },
			wantErr: "relay.ping_timeout (30s) must exceed ping_interval (30s)",
		},
		{
			name:    "no credentials",
			mutate:  func(c *RelayConfig) { c.Credentials = CredentialsConfig{} },
			wantErr: "credentials.api_key or credentials.api_key_path is required",
		},
		{
			name:    "unknown journal driver",
			mutate:  func(c *RelayConfig) { c.Journal.Driver = "mysql" },
			wantErr: `journal.driver must be sqlite, postgres or empty, got "mysql"`,
		},
		{
			name: "missing postgres password",
			mutate: func(c *RelayConfig) {
				c.Journal.Driver = "postgres"
				c.Journal.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 2}
			},
			wantErr: "journal.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *RelayConfig) {
				c.Journal.Driver = "postgres"
				c.Journal.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "journal.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "status port out of range",
			mutate:  func(c *RelayConfig) { c.Status.Port = 70000 },
			wantErr: "status.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			mutate:  func(c *RelayConfig) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *RelayConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
