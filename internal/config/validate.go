package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil {
		return fmt.Errorf("relay.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Relay.KeepAliveInterval <= 0 {
		return errors.New("relay.keepalive_interval must be > 0")
	}
	if c.Relay.CheckInterval <= 0 {
		return errors.New("relay.check_interval must be > 0")
	}
	if c.Relay.PingTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.ping_timeout (%s) must exceed ping_interval (%s)", c.Relay.PingTimeout, c.Relay.PingInterval)
	}

	if c.Credentials.APIKey == "" && c.Credentials.APIKeyPath == "" {
		return errors.New("credentials.api_key or credentials.api_key_path is required")
	}

	if c.Local.GraphQLURL == "" {
		return errors.New("local.graphql_url is required")
	}
	if c.Local.MaxRetries < 0 {
		return errors.New("local.max_retries must be >= 0")
	}

	if c.Subscriptions.CoalesceWindow < 0 {
		return errors.New("subscriptions.coalesce_window must be >= 0")
	}

	switch c.Journal.Driver {
	case "":
	case "sqlite":
		if c.Journal.SQLitePath == "" {
			return errors.New("journal.sqlite_path is required")
		}
	case "postgres":
		if err := c.Journal.Postgres.validate("journal.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("journal.driver must be sqlite, postgres or empty, got %q", c.Journal.Driver)
	}

	if c.Status.Port < 1 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 1 and 65535, got %d", c.Status.Port)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("tracing.exporter must be stdout, got %q", c.Tracing.Exporter)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
