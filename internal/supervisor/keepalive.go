package supervisor

import (
	"log/slog"
	"sync"
	"time"
)

// KeepAliveSender writes keep-alive frames.
type KeepAliveSender interface {
	Open() bool
	SendKeepAlive() bool
}

// KeepAlive emits a keep-alive frame every interval while the connection is
// open. It stops itself once the sender reports the connection closed.
type KeepAlive struct {
	interval time.Duration
	sender   KeepAliveSender
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartKeepAlive starts emitting frames on sender.
func StartKeepAlive(interval time.Duration, sender KeepAliveSender, logger *slog.Logger) *KeepAlive {
	if logger == nil {
		logger = slog.Default()
	}

	k := &KeepAlive{
		interval: interval,
		sender:   sender,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go k.run()
	return k
}

// Stop halts the emitter and waits for it to exit. It is safe to call more
// than once.
func (k *KeepAlive) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
	<-k.done
}

// Done is closed once the emitter has exited.
func (k *KeepAlive) Done() <-chan struct{} {
	return k.done
}

func (k *KeepAlive) run() {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			if !k.sender.Open() {
				k.logger.Debug("connection closed, keep-alive exiting")
				return
			}
			k.sender.SendKeepAlive()
		}
	}
}
