// Package subscription implements the relay's subscription bookkeeping.
//
// A Manager lives for one relay connection. It:
//   - Subscribes to the event bus on "start" and records the entry in a Registry
//   - Forwards bus notifications as "data" envelopes, suppressing unchanged payloads
//   - Coalesces high-churn fields so bursts collapse to the latest value
//   - Starts shared producers for high-churn feeds through reference-counted Feeds
//   - Unsubscribes everything when the connection closes
package subscription
