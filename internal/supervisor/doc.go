// Package supervisor keeps at most one relay connection alive.
//
// CheckConnection is driven by a periodic trigger and decides whether to
// open, keep, or close the connection. When a connection ends, the close
// code is turned into a reconnect decision that either latches a deadline
// before the next attempt or stops reconnecting until Resume is called.
//
// Each open connection gets a session: one receive goroutine that handles
// frames in arrival order, a keep-alive emitter and a subscription manager.
// A session is torn down completely before the next connection can open.
package supervisor
