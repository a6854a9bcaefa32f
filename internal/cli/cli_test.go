package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/relaylink/internal/config"
	"github.com/rickgao/relaylink/internal/credentials"
	"github.com/rickgao/relaylink/internal/protocol"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "relaylink", cmd.Use)

	for _, name := range []string{"run", "validate", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "relaylink.yaml", configFlag.DefValue)
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--env-file", ""})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "relaylink dev"))
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: tower
relay:
  url: wss://relay.example.com/ws
credentials:
  api_key: ${RELAYLINK_TEST_KEY}
`)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RELAYLINK_TEST_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RELAYLINK_TEST_KEY") })

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--config", path, "--env-file", envFile})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "is valid")
	assert.Contains(t, out.String(), "instance:  tower")
	assert.Contains(t, out.String(), "journal:   disabled")
	assert.Equal(t, "from-dotenv", os.Getenv("RELAYLINK_TEST_KEY"))
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, "instance:\n  id: tower\n")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", "--config", path, "--env-file", ""})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.url is required")
}

func TestLoadEnvFile_Missing(t *testing.T) {
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, loadEnvFile(""))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

// mockRelay accepts connections carrying the expected key, starts a
// dashboard subscription and forwards every frame the client sends.
type mockRelay struct {
	server   *httptest.Server
	key      string
	frames   chan protocol.Envelope
	attempts atomic.Int32
}

func newMockRelay(t *testing.T, key string) *mockRelay {
	t.Helper()
	r := &mockRelay{key: key, frames: make(chan protocol.Envelope, 64)}

	upgrader := websocket.Upgrader{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.attempts.Add(1)
		if req.Header.Get(credentials.HeaderAPIKey) != r.key {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		start, _ := protocol.NewEnvelope(protocol.TypeStart, "1", protocol.OperationPayload{
			Query: "subscription { dashboard { cpus } }",
		})
		data, _ := protocol.Encode(start)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, err := protocol.Decode(msg); err == nil {
				select {
				case r.frames <- env:
				default:
				}
			}
		}
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *mockRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func relayConfig(t *testing.T, relayURL, key string) *config.RelayConfig {
	t.Helper()
	path := writeConfig(t, `
instance:
  id: tower
relay:
  url: `+relayURL+`
  check_interval: 50ms
credentials:
  api_key: `+key+`
local:
  graphql_url: http://127.0.0.1:1/graphql
subscriptions:
  coalesce_window: 20ms
  dashboard_interval: 20ms
journal:
  driver: sqlite
  sqlite_path: `+filepath.Join(t.TempDir(), "journal.db")+`
`)
	cfg, err := config.LoadWithDefaults(path)
	require.NoError(t, err)
	cfg.Status.Port = freePort(t)
	return cfg
}

func TestRunRelay_ServesDashboardSubscription(t *testing.T) {
	relay := newMockRelay(t, "test-key")
	cfg := relayConfig(t, relay.url(), "test-key")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- runRelay(ctx, cfg, slog.Default()) }()

	deadline := time.After(5 * time.Second)
wait:
	for {
		select {
		case env := <-relay.frames:
			if env.Type == protocol.TypeData {
				assert.Equal(t, "1", env.ID)
				assert.Contains(t, string(env.Payload), `"cpus"`)
				break wait
			}
		case <-deadline:
			t.Fatal("no dashboard data received")
		}
	}

	healthURL := "http://127.0.0.1:" + strconv.Itoa(cfg.Status.Port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runRelay did not return after cancel")
	}
}

// stoppedOnUnauthorized reports whether /health shows the connection stopped
// by a 401.
func stoppedOnUnauthorized(healthURL string) bool {
	resp, err := http.Get(healthURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Connection struct {
			Stopped       bool `json:"stopped"`
			LastCloseCode int  `json:"lastCloseCode"`
		} `json:"connection"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode == http.StatusServiceUnavailable &&
		body.Connection.Stopped &&
		body.Connection.LastCloseCode == http.StatusUnauthorized
}

func TestRunRelay_RejectedKeyStops(t *testing.T) {
	relay := newMockRelay(t, "right-key")
	cfg := relayConfig(t, relay.url(), "wrong-key")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- runRelay(ctx, cfg, slog.Default()) }()

	healthURL := "http://127.0.0.1:" + strconv.Itoa(cfg.Status.Port) + "/health"
	require.Eventually(t, func() bool {
		return stoppedOnUnauthorized(healthURL)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runRelay did not return after cancel")
	}
}

func TestRunRelay_RejectedKeyFileStops(t *testing.T) {
	relay := newMockRelay(t, "right-key")
	cfg := relayConfig(t, relay.url(), "unused")

	keyPath := filepath.Join(t.TempDir(), "api.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("wrong-key\n"), 0o600))
	cfg.Credentials.APIKey = ""
	cfg.Credentials.APIKeyPath = keyPath

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- runRelay(ctx, cfg, slog.Default()) }()

	healthURL := "http://127.0.0.1:" + strconv.Itoa(cfg.Status.Port) + "/health"
	require.Eventually(t, func() bool {
		return stoppedOnUnauthorized(healthURL)
	}, 5*time.Second, 20*time.Millisecond)

	// Many reload and check ticks pass while the file still holds the
	// rejected key; none of them may redial.
	time.Sleep(10 * cfg.Relay.CheckInterval)
	assert.Equal(t, int32(1), relay.attempts.Load())
	assert.True(t, stoppedOnUnauthorized(healthURL))

	// A different key in the file clears the stop.
	require.NoError(t, os.WriteFile(keyPath, []byte("right-key\n"), 0o600))

	deadline := time.After(5 * time.Second)
wait:
	for {
		select {
		case env := <-relay.frames:
			if env.Type == protocol.TypeData {
				break wait
			}
		case <-deadline:
			t.Fatal("no data received after key rotation")
		}
	}
	assert.Equal(t, int32(2), relay.attempts.Load())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runRelay did not return after cancel")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaylink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
