// Package dispatch executes query and mutation envelopes received from the
// relay and writes each result back under the request's id.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/relaylink/internal/credentials"
	"github.com/rickgao/relaylink/internal/executor"
	"github.com/rickgao/relaylink/internal/protocol"
)

// Executor runs one GraphQL operation.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (json.RawMessage, error)
}

// IdentityResolver maps an API key to the identity a request runs as.
type IdentityResolver interface {
	Resolve(ctx context.Context, key string) (credentials.Identity, error)
}

// KeySource supplies the configured API key.
type KeySource interface {
	APIKey() string
}

// Sender writes replies to the relay.
type Sender interface {
	Open() bool
	SendData(name, id string, data any) bool
	SendError(name, id, message string) bool
}

// Dispatcher handles query and mutation envelopes.
type Dispatcher struct {
	keys     KeySource
	resolver IdentityResolver
	exec     Executor
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a dispatcher.
func New(keys KeySource, resolver IdentityResolver, exec Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		keys:     keys,
		resolver: resolver,
		exec:     exec,
		tracer:   otel.Tracer("github.com/rickgao/relaylink/internal/dispatch"),
		logger:   logger,
	}
}

// Handle executes env and sends exactly one data or error reply, unless the
// connection closed while the operation ran. Panics are converted into error
// replies.
func (d *Dispatcher) Handle(ctx context.Context, env protocol.Envelope, sender Sender) {
	name := string(env.Type)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic handling operation", "id", env.ID, "operation", name, "panic", r)
			d.reply(sender, name, env.ID, nil, fmt.Errorf("internal error: %v", r))
		}
	}()

	data, opName, err := d.execute(ctx, env)
	if opName != "" {
		name = opName
	}

	d.logger.Debug("operation finished",
		"id", env.ID,
		"operation", name,
		"duration", time.Since(start),
		"error", err,
	)

	d.reply(sender, name, env.ID, data, err)
}

func (d *Dispatcher) execute(ctx context.Context, env protocol.Envelope) (json.RawMessage, string, error) {
	payload, err := protocol.DecodeOperation(env)
	if err != nil {
		return nil, "", err
	}

	op, err := protocol.ParseOperation(payload.Query)
	if err != nil {
		return nil, "", err
	}
	name := op.DisplayName()
	if payload.OperationName != "" {
		name = payload.OperationName
	}

	ctx, span := d.tracer.Start(ctx, "relay."+string(env.Type),
		trace.WithAttributes(
			attribute.String("relay.message_id", env.ID),
			attribute.String("graphql.operation.name", name),
			attribute.String("graphql.operation.type", string(op.Kind)),
		),
	)
	defer span.End()

	key := d.keys.APIKey()
	identity, err := d.resolver.Resolve(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity")
		return nil, name, err
	}

	data, err := d.exec.Execute(ctx, executor.Request{
		Query:         payload.Query,
		OperationName: payload.OperationName,
		Variables:     payload.Variables,
		APIKey:        key,
		Identity:      identity,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute")
		return nil, name, err
	}

	return data, name, nil
}

// reply sends the result if the connection is still open. A reply for a
// connection that closed mid-flight is dropped.
func (d *Dispatcher) reply(sender Sender, name, id string, data json.RawMessage, err error) {
	if !sender.Open() {
		d.logger.Debug("connection closed, dropping reply", "id", id, "operation", name)
		return
	}

	if err != nil {
		sender.SendError(name, id, err.Error())
		return
	}
	sender.SendData(name, id, data)
}
