// Package dashboard produces the shared "dashboard" feed: a periodic
// snapshot of host and process vitals published on the event bus while at
// least one subscription wants it.
package dashboard

import (
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// Field is the subscription field the producer publishes on.
const Field = "dashboard"

var ErrInvalidInterval = errors.New("dashboard interval must be > 0")

// Publisher delivers payloads to the subscribers of a field.
type Publisher interface {
	Publish(field string, payload any) int
}

// Snapshot is one dashboard payload.
type Snapshot struct {
	Hostname   string  `json:"hostname"`
	OS         string  `json:"os"`
	Arch       string  `json:"arch"`
	CPUs       int     `json:"cpus"`
	Goroutines int     `json:"goroutines"`
	HeapAlloc  uint64  `json:"heapAlloc"`
	HeapSys    uint64  `json:"heapSys"`
	UptimeSecs float64 `json:"uptimeSeconds"`
}

// Collector builds a snapshot.
type Collector func() Snapshot

// RuntimeCollector reports the current process, measuring uptime from
// started.
func RuntimeCollector(started time.Time) Collector {
	hostname, _ := os.Hostname()
	return func() Snapshot {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return Snapshot{
			Hostname:   hostname,
			OS:         runtime.GOOS,
			Arch:       runtime.GOARCH,
			CPUs:       runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  mem.HeapAlloc,
			HeapSys:    mem.HeapSys,
			UptimeSecs: time.Since(started).Truncate(time.Second).Seconds(),
		}
	}
}

// Producer publishes a snapshot every interval between Start and Stop.
type Producer struct {
	interval time.Duration
	bus      Publisher
	collect  Collector
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewProducer creates a stopped producer. A nil collector reports this
// process.
func NewProducer(interval time.Duration, bus Publisher, collect Collector, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if collect == nil {
		collect = RuntimeCollector(time.Now())
	}
	return &Producer{
		interval: interval,
		bus:      bus,
		collect:  collect,
		logger:   logger,
	}
}

// Start begins publishing, first immediately and then every interval.
// Starting a running producer is a no-op.
func (p *Producer) Start() error {
	if p.interval <= 0 {
		return ErrInvalidInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	return nil
}

// Stop halts publishing and waits for the loop to exit.
func (p *Producer) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the producer is publishing.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Producer) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.publish()
		}
	}
}

func (p *Producer) publish() {
	n := p.bus.Publish(Field, p.collect())
	p.logger.Debug("dashboard published", "subscribers", n)
}
