package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/relaylink/internal/connection"
	"github.com/rickgao/relaylink/internal/protocol"
	"github.com/rickgao/relaylink/internal/subscription"
)

// session owns everything attached to one open connection.
type session struct {
	id       string
	openedAt time.Time
	client   connection.Client
	codec    *protocol.Codec
	subs     *subscription.Manager
	dispatch Dispatcher
	logger   *slog.Logger

	keepAliveInterval time.Duration
	keepAlive         *KeepAlive

	// onClose is called from the receive loop when the connection ends.
	onClose func(code int, reason string)

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	teardownOnce sync.Once
}

func newSession(id string, client connection.Client, cfg Config, deps Deps, openedAt time.Time, logger *slog.Logger) *session {
	logger = logger.With("session_id", id)
	codec := protocol.NewCodec(client, logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &session{
		id:                id,
		openedAt:          openedAt,
		client:            client,
		codec:             codec,
		subs:              subscription.NewManager(cfg.Subscriptions, deps.Bus, deps.Feeds, codec, logger),
		dispatch:          deps.Dispatcher,
		logger:            logger,
		keepAliveInterval: cfg.KeepAliveInterval,
		ctx:               ctx,
		cancel:            cancel,
		loopDone:          make(chan struct{}),
	}
}

func newSessionID() string {
	return uuid.NewString()
}

// start begins the keep-alive emitter and the receive loop.
func (s *session) start(onClose func(code int, reason string)) {
	s.onClose = onClose
	if s.keepAliveInterval > 0 {
		s.keepAlive = StartKeepAlive(s.keepAliveInterval, s.codec, s.logger)
	}
	go s.receiveLoop()
}

// receiveLoop handles frames in arrival order until the connection ends or
// the session is torn down.
func (s *session) receiveLoop() {
	defer close(s.loopDone)

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.client.Messages():
			s.handleFrame(msg.Data)

		case err := <-s.client.Errors():
			code, reason := connection.CloseCode(err)
			s.logger.Debug("connection ended", "code", code, "reason", reason, "error", err)
			if s.onClose != nil {
				s.onClose(code, reason)
			}
			return
		}
	}
}

func (s *session) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("dropping frame", "error", err, "size", len(data))
		return
	}

	switch env.Type {
	case protocol.TypeStart:
		// The manager has already answered with an error envelope.
		if err := s.subs.Start(env); err != nil {
			s.logger.Debug("start rejected", "id", env.ID, "error", err)
		}

	case protocol.TypeStop:
		s.subs.Stop(env)

	case protocol.TypeQuery, protocol.TypeMutation:
		if s.dispatch == nil {
			s.codec.SendError(string(env.Type), env.ID, "operations are not supported")
			return
		}
		// Replies may complete in any order; a slow operation only delays
		// its own reply.
		go s.dispatch.Handle(s.ctx, env, s.codec)

	case protocol.TypeKeepAlive:

	default:
		s.logger.Debug("ignoring inbound frame", "type", env.Type, "id", env.ID)
	}
}

// teardown stops the keep-alive, cancels in-flight operations and removes
// every subscription. When called from outside the receive loop it waits for
// the loop to exit first, so no start can race the subscription teardown.
func (s *session) teardown(fromLoop bool) int {
	removed := 0
	s.teardownOnce.Do(func() {
		s.cancel()
		if !fromLoop {
			<-s.loopDone
		}
		if s.keepAlive != nil {
			s.keepAlive.Stop()
		}
		removed = s.subs.Close()
	})
	return removed
}
