// Package connection implements the WebSocket transport to the relay.
//
// A Client owns one socket:
//   - Sends the configured headers and sub-protocol on the upgrade request
//   - Delivers frames in arrival order on Messages
//   - Answers relay pings and pings the relay, reporting stale sockets
//   - Reports the error that ended the socket on Errors
//
// CloseCode and DialCode turn those errors into relay close codes.
package connection
