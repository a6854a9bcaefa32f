// Package journal records connection lifecycle events so an operator can see
// why the relay connection opened, closed or stopped retrying.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal event.
type Kind string

const (
	KindTransition Kind = "transition" // State change of the relay connection
	KindClose      Kind = "close"      // Reconnect decision after a close
	KindResume     Kind = "resume"     // Permanent stop cleared
)

// Event is one recorded occurrence.
type Event struct {
	ID        string
	SessionID string
	Kind      Kind
	From      string
	To        string
	Code      int
	Reason    string
	Delay     time.Duration // Zero when no retry is scheduled
	At        time.Time
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Stamp fills in the ID and time of ev when they are unset.
func Stamp(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Event, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }
