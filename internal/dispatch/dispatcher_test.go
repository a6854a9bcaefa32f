package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/relaylink/internal/credentials"
	"github.com/rickgao/relaylink/internal/executor"
	"github.com/rickgao/relaylink/internal/protocol"
)

type staticKey string

func (k staticKey) APIKey() string { return string(k) }

type execFunc func(ctx context.Context, req executor.Request) (json.RawMessage, error)

func (f execFunc) Execute(ctx context.Context, req executor.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

type reply struct {
	kind    protocol.MessageType
	name    string
	id      string
	data    any
	message string
}

type fakeSender struct {
	mu      sync.Mutex
	open    bool
	replies []reply
}

func (s *fakeSender) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSender) setOpen(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = v
}

func (s *fakeSender) SendData(name, id string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{kind: protocol.TypeData, name: name, id: id, data: data})
	return true
}

func (s *fakeSender) SendError(name, id, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{kind: protocol.TypeError, name: name, id: id, message: message})
	return true
}

func operation(t *testing.T, typ protocol.MessageType, id string, payload protocol.OperationPayload) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, id, payload)
	require.NoError(t, err)
	return env
}

func TestHandle_Success(t *testing.T) {
	var got executor.Request
	exec := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		got = req
		return json.RawMessage(`{"info":{"os":"linux"}}`), nil
	})

	d := New(staticKey("secret"), credentials.NewResolver("tower"), exec, nil)
	sender := &fakeSender{open: true}

	d.Handle(context.Background(), operation(t, protocol.TypeQuery, "q1", protocol.OperationPayload{
		Query:     "query Info { info { os } }",
		Variables: map[string]any{"a": 1.0},
	}), sender)

	require.Len(t, sender.replies, 1)
	r := sender.replies[0]
	assert.Equal(t, protocol.TypeData, r.kind)
	assert.Equal(t, "q1", r.id)
	assert.Equal(t, "Info", r.name)
	assert.Equal(t, json.RawMessage(`{"info":{"os":"linux"}}`), r.data)

	assert.Equal(t, "secret", got.APIKey)
	assert.Equal(t, credentials.Fingerprint("secret"), got.Identity.Fingerprint)
	assert.Equal(t, map[string]any{"a": 1.0}, got.Variables)
}

func TestHandle_Mutation(t *testing.T) {
	exec := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"startArray":true}`), nil
	})
	d := New(staticKey("secret"), credentials.NewResolver(""), exec, nil)
	sender := &fakeSender{open: true}

	d.Handle(context.Background(), operation(t, protocol.TypeMutation, "m1", protocol.OperationPayload{
		Query: "mutation { startArray }",
	}), sender)

	require.Len(t, sender.replies, 1)
	assert.Equal(t, protocol.TypeData, sender.replies[0].kind)
	assert.Equal(t, "startArray", sender.replies[0].name)
}

func TestHandle_Errors(t *testing.T) {
	ok := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	failing := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		return nil, &executor.GraphQLError{Messages: []string{"forbidden"}}
	})
	panicking := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		panic("executor exploded")
	})

	tests := []struct {
		name    string
		key     string
		exec    Executor
		payload protocol.OperationPayload
		want    string
	}{
		{"no api key", "", ok, protocol.OperationPayload{Query: "{ info { os } }"}, credentials.ErrNoAPIKey.Error()},
		{"empty query", "k", ok, protocol.OperationPayload{}, ""},
		{"syntax error", "k", ok, protocol.OperationPayload{Query: "query {"}, ""},
		{"execution error", "k", failing, protocol.OperationPayload{Query: "{ info { os } }"}, "forbidden"},
		{"panic", "k", panicking, protocol.OperationPayload{Query: "{ info { os } }"}, "executor exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(staticKey(tt.key), credentials.NewResolver(""), tt.exec, nil)
			sender := &fakeSender{open: true}

			assert.NotPanics(t, func() {
				d.Handle(context.Background(), operation(t, protocol.TypeQuery, "e1", tt.payload), sender)
			})

			require.Len(t, sender.replies, 1)
			r := sender.replies[0]
			assert.Equal(t, protocol.TypeError, r.kind)
			assert.Equal(t, "e1", r.id)
			assert.NotEmpty(t, r.message)
			if tt.want != "" {
				assert.Contains(t, r.message, tt.want)
			}
		})
	}
}

func TestHandle_DropsReplyAfterClose(t *testing.T) {
	sender := &fakeSender{open: true}
	exec := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		// The connection closes while the operation is running.
		sender.setOpen(false)
		return json.RawMessage(`{}`), nil
	})
	d := New(staticKey("k"), credentials.NewResolver(""), exec, nil)

	d.Handle(context.Background(), operation(t, protocol.TypeQuery, "q1", protocol.OperationPayload{
		Query: "{ info { os } }",
	}), sender)

	assert.Empty(t, sender.replies)
}

func TestHandle_PassesContext(t *testing.T) {
	type ctxKey struct{}
	exec := execFunc(func(ctx context.Context, req executor.Request) (json.RawMessage, error) {
		if ctx.Value(ctxKey{}) != "v" {
			return nil, errors.New("context not propagated")
		}
		return json.RawMessage(`{}`), nil
	})
	d := New(staticKey("k"), credentials.NewResolver(""), exec, nil)
	sender := &fakeSender{open: true}

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	d.Handle(ctx, operation(t, protocol.TypeQuery, "q1", protocol.OperationPayload{Query: "{ a }"}), sender)

	require.Len(t, sender.replies, 1)
	assert.Equal(t, protocol.TypeData, sender.replies[0].kind)
}
