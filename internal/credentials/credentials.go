// Package credentials holds the API key used to authenticate with the relay
// and the local API, and resolves keys to caller identities.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rickgao/relaylink/internal/version"
)

// Header names sent when opening the relay connection.
const (
	HeaderAPIKey        = "x-api-key"
	HeaderClientVersion = "x-relay-client-version"
	HeaderInstanceID    = "x-instance-id"
)

// Errors
var (
	ErrNoAPIKey     = errors.New("no API key configured")
	ErrEmptyKeyFile = errors.New("key file is empty")
)

// LoadKeyFile reads an API key from a file, trimming surrounding whitespace.
func LoadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyKeyFile)
	}
	return key, nil
}

// Store holds the current API key. It is safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	key       string
	rejected  string // fingerprint of the last invalidated key
	listeners []func(key string)
}

// NewStore creates a store. When key is empty and path is set, the key is
// read from path.
func NewStore(key, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if key == "" && path != "" {
		loaded, err := LoadKeyFile(path)
		if err != nil {
			return nil, err
		}
		key = loaded
	}

	return &Store{path: path, key: key, logger: logger}, nil
}

// APIKey returns the current key, or "" when none is set.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Set replaces the key and notifies listeners. Setting a key other than the
// last invalidated one clears the rejection.
func (s *Store) Set(key string) {
	s.mu.Lock()
	if s.key == key {
		s.mu.Unlock()
		return
	}
	s.key = key
	if key != "" && Fingerprint(key) != s.rejected {
		s.rejected = ""
	}
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("api key updated", "fingerprint", Fingerprint(key))
	for _, fn := range listeners {
		fn(key)
	}
}

// Invalidate drops the key after the relay rejected it. Reload will not
// restore the same key; only a different one is picked up.
func (s *Store) Invalidate() {
	s.mu.Lock()
	fp := Fingerprint(s.key)
	if fp != "" {
		s.rejected = fp
	}
	s.mu.Unlock()

	s.logger.Warn("api key invalidated", "fingerprint", fp)
	s.Set("")
}

// Rejected reports whether key is the one most recently invalidated.
func (s *Store) Rejected(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return key != "" && s.rejected != "" && Fingerprint(key) == s.rejected
}

// Reload re-reads the key file. It is a no-op when the store has no path or
// when the file still holds the invalidated key.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	key, err := LoadKeyFile(s.path)
	if err != nil {
		return err
	}
	if s.Rejected(key) {
		s.logger.Debug("key file still holds rejected key", "fingerprint", Fingerprint(key))
		return nil
	}
	s.Set(key)
	return nil
}

// OnChange registers fn to be called after every key change.
func (s *Store) OnChange(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Headers builds the header set for one relay open. It is called per open so
// a rotated key takes effect on the next connection.
func (s *Store) Headers(instanceID string) http.Header {
	h := make(http.Header)
	if key := s.APIKey(); key != "" {
		h.Set(HeaderAPIKey, key)
	}
	h.Set(HeaderClientVersion, version.Version)
	if instanceID != "" {
		h.Set(HeaderInstanceID, instanceID)
	}
	h.Set("User-Agent", version.UserAgent())
	return h
}

// Identity is the caller a request executes as.
type Identity struct {
	Fingerprint string // Short hash of the API key
	Instance    string
}

// Resolver maps API keys to identities.
type Resolver struct {
	instance string
}

// NewResolver creates a resolver for this instance.
func NewResolver(instance string) *Resolver {
	return &Resolver{instance: instance}
}

// Resolve returns the identity for key.
func (r *Resolver) Resolve(ctx context.Context, key string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if key == "" {
		return Identity{}, ErrNoAPIKey
	}
	return Identity{Fingerprint: Fingerprint(key), Instance: r.instance}, nil
}

// Fingerprint returns a short, log-safe digest of key.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
