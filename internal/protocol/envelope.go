package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingID      = errors.New("missing message id")
)

// MessageType is the "type" field of an envelope.
type MessageType string

const (
	TypeQuery     MessageType = "query"
	TypeMutation  MessageType = "mutation"
	TypeStart     MessageType = "start"
	TypeStop      MessageType = "stop"
	TypeData      MessageType = "data"
	TypeError     MessageType = "error"
	TypeKeepAlive MessageType = "ka"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeQuery, TypeMutation, TypeStart, TypeStop, TypeData, TypeError, TypeKeepAlive:
		return true
	}
	return false
}

// Envelope is one frame on the relay connection.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OperationPayload is the payload of query, mutation and start envelopes.
type OperationPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// DataPayload is the payload of a data envelope.
type DataPayload struct {
	Data any `json:"data"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the human-readable failure.
type ErrorBody struct {
	Message string `json:"message"`
}

// Decode parses an inbound frame. Frames that are not JSON objects, carry an
// unknown type, or omit the id on a type that requires one are rejected.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if env.ID == "" && env.Type != TypeKeepAlive {
		return Envelope{}, fmt.Errorf("%w: type %s", ErrMissingID, env.Type)
	}

	return env, nil
}

// Encode builds the wire form of an envelope.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return json.Marshal(env)
}

// NewEnvelope marshals payload into an envelope. A nil payload is omitted.
func NewEnvelope(msgType MessageType, id string, payload any) (Envelope, error) {
	env := Envelope{ID: id, Type: msgType}
	if payload == nil {
		return env, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Payload = raw
	return env, nil
}

// DecodeOperation extracts the operation payload of a query, mutation or
// start envelope.
func DecodeOperation(env Envelope) (OperationPayload, error) {
	var op OperationPayload
	if len(env.Payload) == 0 {
		return op, fmt.Errorf("%w: %s envelope without payload", ErrMalformedFrame, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &op); err != nil {
		return op, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
	}
	if op.Query == "" {
		return op, fmt.Errorf("%w: %s payload has no query", ErrMalformedFrame, env.Type)
	}
	return op, nil
}
