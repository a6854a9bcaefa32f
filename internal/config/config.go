// Package config loads the relaylink YAML configuration.
package config

import "time"

// RelayConfig is the root configuration for a relay client instance.
type RelayConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Relay         RelayConnConfig     `yaml:"relay"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Local         LocalConfig         `yaml:"local"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Journal       JournalConfig       `yaml:"journal"`
	Status        StatusConfig        `yaml:"status"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Log           LogConfig           `yaml:"log"`
}

// InstanceConfig identifies this client to the relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RelayConnConfig holds the relay WebSocket settings.
type RelayConnConfig struct {
	URL               string        `yaml:"url"`
	Subprotocol       string        `yaml:"subprotocol"`
	Enabled           *bool         `yaml:"enabled"` // nil means enabled
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	CheckInterval     time.Duration `yaml:"check_interval"`
}

// ShouldConnect reports whether the relay connection is enabled.
func (r RelayConnConfig) ShouldConnect() bool {
	return r.Enabled == nil || *r.Enabled
}

// CredentialsConfig holds the API key, inline or from a file.
type CredentialsConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyPath string `yaml:"api_key_path"`
}

// LocalConfig holds the local GraphQL API settings.
type LocalConfig struct {
	GraphQLURL string        `yaml:"graphql_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SubscriptionsConfig holds subscription delivery settings.
type SubscriptionsConfig struct {
	CoalesceWindow    time.Duration `yaml:"coalesce_window"`
	HighChurnFields   []string      `yaml:"high_churn_fields"`
	DashboardInterval time.Duration `yaml:"dashboard_interval"`
}

// JournalConfig selects where connection events are recorded.
type JournalConfig struct {
	Driver     string   `yaml:"driver"` // "sqlite", "postgres" or "" to disable
	SQLitePath string   `yaml:"sqlite_path"`
	Postgres   DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the status HTTP server settings.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout"
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
