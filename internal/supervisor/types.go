package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/relaylink/internal/connection"
	"github.com/rickgao/relaylink/internal/dispatch"
	"github.com/rickgao/relaylink/internal/journal"
	"github.com/rickgao/relaylink/internal/policy"
	"github.com/rickgao/relaylink/internal/protocol"
	"github.com/rickgao/relaylink/internal/subscription"
)

// State is the lifecycle state of the relay connection.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Connection status values reported by Status.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Dispatcher executes query and mutation envelopes.
type Dispatcher interface {
	Handle(ctx context.Context, env protocol.Envelope, sender dispatch.Sender)
}

// ClientFactory creates the transport for one connection attempt.
type ClientFactory func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client

// Config configures a Supervisor.
type Config struct {
	Client            connection.ClientConfig // Header is replaced on every open
	KeepAliveInterval time.Duration
	Subscriptions     subscription.Config

	// ShouldConnect reports whether a connection is wanted. Nil means always.
	ShouldConnect func() bool

	// Headers builds the upgrade headers for each open.
	Headers func() http.Header

	// OnInvalidCredential runs once when the relay rejects the credential.
	OnInvalidCredential func()

	// OnVersionMismatch runs once when the relay reports the client is out of date.
	OnVersionMismatch func()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:            connection.DefaultClientConfig(),
		KeepAliveInterval: 30 * time.Second,
		Subscriptions:     subscription.DefaultConfig(),
	}
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	NewClient  ClientFactory // Defaults to connection.NewClient
	Bus        subscription.EventBus
	Feeds      *subscription.Feeds
	Dispatcher Dispatcher
	Journal    journal.Recorder // Defaults to journal.Nop
	Policy     policy.Policy
	Now        func() time.Time // Defaults to time.Now
}

// Snapshot is a point-in-time view of the supervisor for health reporting.
type Snapshot struct {
	Status          string     `json:"connectionStatus"`
	State           string     `json:"state"`
	SessionID       string     `json:"sessionId,omitempty"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"`
	LastCloseCode   int        `json:"lastCloseCode,omitempty"`
	LastCloseReason string     `json:"lastCloseReason,omitempty"`
	ReconnectAt     *time.Time `json:"reconnectAt,omitempty"`
	Stopped         bool       `json:"stopped"`
	StopReason      string     `json:"stopReason,omitempty"`
	VersionMismatch bool       `json:"versionMismatch"`
	Subscriptions   int        `json:"subscriptions"`
}
