package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultCheckInterval     = 10 * time.Second
	DefaultLocalGraphQLURL   = "http://127.0.0.1:80/graphql"
	DefaultLocalTimeout      = 30 * time.Second
	DefaultLocalMaxRetries   = 2
	DefaultCoalesceWindow    = time.Second
	DefaultDashboardInterval = time.Second
	DefaultSQLitePath        = "relaylink.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultStatusPort        = 9090
	DefaultTracingExporter   = "stdout"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultHighChurnFields are coalesced unless configured otherwise.
var DefaultHighChurnFields = []string{"dashboard"}

func (c *RelayConfig) applyDefaults() {
	// Relay defaults
	if c.Relay.HandshakeTimeout == 0 {
		c.Relay.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = DefaultWriteTimeout
	}
	if c.Relay.PingInterval == 0 {
		c.Relay.PingInterval = DefaultPingInterval
	}
	if c.Relay.PingTimeout == 0 {
		c.Relay.PingTimeout = DefaultPingTimeout
	}
	if c.Relay.KeepAliveInterval == 0 {
		c.Relay.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.Relay.CheckInterval == 0 {
		c.Relay.CheckInterval = DefaultCheckInterval
	}

	// Local API defaults
	if c.Local.GraphQLURL == "" {
		c.Local.GraphQLURL = DefaultLocalGraphQLURL
	}
	if c.Local.Timeout == 0 {
		c.Local.Timeout = DefaultLocalTimeout
	}
	if c.Local.MaxRetries == 0 {
		c.Local.MaxRetries = DefaultLocalMaxRetries
	}

	// Subscription defaults
	if c.Subscriptions.CoalesceWindow == 0 {
		c.Subscriptions.CoalesceWindow = DefaultCoalesceWindow
	}
	if c.Subscriptions.HighChurnFields == nil {
		c.Subscriptions.HighChurnFields = append([]string(nil), DefaultHighChurnFields...)
	}
	if c.Subscriptions.DashboardInterval == 0 {
		c.Subscriptions.DashboardInterval = DefaultDashboardInterval
	}

	// Journal defaults
	if c.Journal.Driver == "sqlite" && c.Journal.SQLitePath == "" {
		c.Journal.SQLitePath = DefaultSQLitePath
	}
	if c.Journal.Driver == "postgres" {
		applyDBDefaults(&c.Journal.Postgres)
	}

	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = DefaultTracingExporter
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
