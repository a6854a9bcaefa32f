// Package policy maps relay close codes to reconnect decisions.
package policy

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Close codes reported by the relay (after removing the 4000 offset used on
// the websocket close frame) or taken from a failed handshake.
const (
	CodeSelfDisconnect      = 5
	CodeSelfDisconnectAlt   = 6
	CodeRelayRestarting     = 12
	CodeInvalidCredential   = 401
	CodeClientOutOfDate     = 426
	CodeRateLimited         = 429
	CodeInternalServerError = 500
	CodeUnreachable         = 503
)

// Decision is the outcome of one close event.
type Decision struct {
	Code   int
	Reason string // Human-readable, for logs and the status endpoint

	ShouldStop bool          // Stop reconnecting until an external actor intervenes
	Delay      time.Duration // Zero when ShouldStop

	InvalidateCredential bool // 401: drop the cached credential
	VersionMismatch      bool // 426: client must be updated
}

// DelaySeconds returns the reconnect delay in seconds, or false when the
// decision is a permanent stop.
func (d Decision) DelaySeconds() (float64, bool) {
	if d.ShouldStop {
		return 0, false
	}
	return d.Delay.Seconds(), true
}

// Range is an inclusive delay range.
type Range struct {
	Min time.Duration
	Max time.Duration
}

func seconds(lo, hi int) Range {
	return Range{Min: time.Duration(lo) * time.Second, Max: time.Duration(hi) * time.Second}
}

// Delay ranges per outcome.
var (
	SelfDisconnectRange = seconds(10, 60)
	RateLimitedRange    = seconds(15, 45)
	DefaultRange        = seconds(45, 75)
)

// Policy samples reconnect delays. The zero value is ready to use.
type Policy struct {
	// Int64N returns a uniform value in [0, n). Defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// Decide is Policy.Decide on the default random source.
func Decide(code int, reason string) Decision {
	return Policy{}.Decide(code, reason)
}

// Decide maps a close code and reason to a reconnect decision. Delays are
// sampled uniformly from the code's range on every call so that many
// clients closed by the same event do not reconnect in lockstep.
func (p Policy) Decide(code int, reason string) Decision {
	d := Decision{Code: code}

	switch code {
	case CodeSelfDisconnect, CodeSelfDisconnectAlt:
		d.Delay = p.sample(SelfDisconnectRange)
		d.Reason = describe("relay closed the connection", reason)

	case CodeRelayRestarting:
		d.Delay = p.sample(SelfDisconnectRange)
		d.Reason = describe("relay is restarting", reason)

	case CodeInvalidCredential:
		d.ShouldStop = true
		d.InvalidateCredential = true
		d.Reason = describe("invalid credential", reason)

	case CodeClientOutOfDate:
		d.ShouldStop = true
		d.VersionMismatch = true
		d.Reason = describe("client is out of date", reason)

	case CodeRateLimited:
		d.Delay = p.sample(RateLimitedRange)
		d.Reason = describe("rate limited", reason)

	case CodeInternalServerError:
		d.Delay = p.sample(DefaultRange)
		d.Reason = describe("relay internal error", reason)

	case CodeUnreachable:
		d.Delay = p.sample(DefaultRange)
		d.Reason = describe("relay unreachable", reason)

	default:
		d.Delay = p.sample(DefaultRange)
		d.Reason = describe(fmt.Sprintf("unexpected close code %d", code), reason)
	}

	return d
}

// sample returns a uniform delay in [r.Min, r.Max] at millisecond granularity.
func (p Policy) sample(r Range) time.Duration {
	int64n := p.Int64N
	if int64n == nil {
		int64n = rand.Int64N
	}

	span := (r.Max - r.Min).Milliseconds()
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(int64n(span+1))*time.Millisecond
}

func describe(what, reason string) string {
	if reason == "" {
		return what
	}
	return what + ": " + reason
}
