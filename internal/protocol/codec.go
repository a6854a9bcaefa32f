package protocol

import (
	"log/slog"
)

// Transport is the part of the relay connection the codec writes to.
type Transport interface {
	Send(data []byte) error
	IsConnected() bool
}

// Codec writes envelopes to one transport.
//
// Writes are at-most-once: when the transport is not open the envelope is
// dropped, never queued for a later connection.
type Codec struct {
	transport Transport
	logger    *slog.Logger
}

// NewCodec binds a codec to a transport.
func NewCodec(transport Transport, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{transport: transport, logger: logger}
}

// Open reports whether the underlying transport is currently open.
func (c *Codec) Open() bool {
	return c.transport != nil && c.transport.IsConnected()
}

// Send encodes and writes one envelope. name is the field or operation the
// envelope belongs to and is only used for logging. It returns false when the
// envelope was not written.
func (c *Codec) Send(name string, msgType MessageType, id string, payload any) bool {
	if !c.Open() {
		c.logger.Debug("transport closed, dropping envelope",
			"name", name,
			"type", msgType,
			"id", id,
		)
		return false
	}

	env, err := NewEnvelope(msgType, id, payload)
	if err != nil {
		c.logger.Warn("failed to build envelope", "name", name, "type", msgType, "id", id, "error", err)
		return false
	}

	data, err := Encode(env)
	if err != nil {
		c.logger.Warn("failed to encode envelope", "name", name, "type", msgType, "id", id, "error", err)
		return false
	}

	if err := c.transport.Send(data); err != nil {
		c.logger.Debug("send failed", "name", name, "type", msgType, "id", id, "error", err)
		return false
	}

	return true
}

// SendData writes a data envelope for id.
func (c *Codec) SendData(name, id string, data any) bool {
	return c.Send(name, TypeData, id, DataPayload{Data: data})
}

// SendError writes an error envelope for id.
func (c *Codec) SendError(name, id, message string) bool {
	return c.Send(name, TypeError, id, ErrorPayload{Error: ErrorBody{Message: message}})
}

// SendKeepAlive writes a keep-alive frame.
func (c *Codec) SendKeepAlive() bool {
	return c.Send("keepalive", TypeKeepAlive, "", nil)
}
