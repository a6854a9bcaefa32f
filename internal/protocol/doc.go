// Package protocol implements the relay wire format.
//
// Every frame on the relay connection is one JSON envelope:
//
//	{"id": "<correlation id>", "type": "query|mutation|start|stop|data|error|ka", "payload": {...}}
//
// The package decodes inbound frames, encodes outbound ones and parses the
// GraphQL documents carried in query, mutation and start payloads.
package protocol
