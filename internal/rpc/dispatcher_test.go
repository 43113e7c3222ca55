package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

type check struct {
	topic    string
	required string
	actor    string
}

type fakeGate struct {
	allow  map[string]bool
	checks []check
	log    *[]string
}

func (g *fakeGate) Check(_ context.Context, token *shared.ActorToken, topic, required string, _ acl.ActionType, _ string) error {
	g.checks = append(g.checks, check{topic: topic, required: required, actor: token.Actor()})
	if g.log != nil {
		*g.log = append(*g.log, "check")
	}
	if g.allow[topic] {
		return nil
	}
	return &acl.DeniedError{Topic: topic, Required: required, Message: "access denied on " + topic}
}

func TestInvokeDeniedNeverRunsHandler(t *testing.T) {
	gate := &fakeGate{}
	d := NewDispatcher(gate, "odyssey", nil, nil)
	called := false
	d.MustRegister("publish", func(context.Context, *shared.ActorToken, []json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	env := d.Invoke(context.Background(), "publish", nil, nil)
	require.False(t, env.OK())
	assert.Equal(t, "access denied on odyssey.rpc.publish", *env.Error)
	assert.False(t, called)
	assert.Equal(t, []check{{topic: "odyssey.rpc.publish", required: "x"}}, gate.checks)
}

func TestInvokeChecksOnceThenCalls(t *testing.T) {
	var order []string
	gate := &fakeGate{allow: map[string]bool{"odyssey.rpc.echo": true}, log: &order}
	d := NewDispatcher(gate, "odyssey", nil, observability.NewMetrics())
	d.MustRegister("echo", func(_ context.Context, token *shared.ActorToken, args []json.RawMessage) (any, error) {
		order = append(order, "handler")
		word, err := Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return token.Actor() + ":" + word, nil
	})

	env := d.Invoke(context.Background(), "echo", &shared.ActorToken{ActorID: "alice"}, []json.RawMessage{json.RawMessage(`"hi"`)})
	require.True(t, env.OK())
	assert.Equal(t, "alice:hi", env.Data)
	assert.Equal(t, []string{"check", "handler"}, order)
	assert.Len(t, gate.checks, 1)
}

func TestInvokeHandlerErrorAndPanic(t *testing.T) {
	gate := &fakeGate{allow: map[string]bool{"odyssey.rpc.fail": true, "odyssey.rpc.boom": true}}
	d := NewDispatcher(gate, "odyssey", nil, nil)
	d.MustRegister("fail", func(context.Context, *shared.ActorToken, []json.RawMessage) (any, error) {
		return nil, errors.New("channel is archived")
	})
	d.MustRegister("boom", func(context.Context, *shared.ActorToken, []json.RawMessage) (any, error) {
		panic("nil map write")
	})

	env := d.Invoke(context.Background(), "fail", nil, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "channel is archived", *env.Error)

	env = d.Invoke(context.Background(), "boom", nil, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "nil map write", *env.Error)
}

func TestInvokeUnknownMethodAfterGate(t *testing.T) {
	gate := &fakeGate{allow: map[string]bool{"odyssey.rpc.missing": true}}
	d := NewDispatcher(gate, "odyssey", nil, nil)

	env := d.Invoke(context.Background(), "missing", nil, nil)
	require.NotNil(t, env.Error)
	assert.Contains(t, *env.Error, "unknown method")
	assert.Len(t, gate.checks, 1)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	d := NewDispatcher(&fakeGate{}, "odyssey", nil, nil)
	h := func(context.Context, *shared.ActorToken, []json.RawMessage) (any, error) { return nil, nil }
	require.NoError(t, d.Register("a", h))
	assert.ErrorIs(t, d.Register("a", h), ErrDuplicateMethod)
	assert.Error(t, d.Register("", h))
	assert.Equal(t, []string{"a"}, d.Methods())
}

func TestEnvelopeJSON(t *testing.T) {
	raw, err := json.Marshal(Success(map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":null,"data":{"n":1}}`, string(raw))

	raw, err = json.Marshal(Failure("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"nope"}`, string(raw))
}

func TestArgHelpers(t *testing.T) {
	args := []json.RawMessage{json.RawMessage(`5`), json.RawMessage(`null`)}

	n, err := Arg[int](args, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = Arg[int](args, 3)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = Arg[string](args, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)

	limit, err := OptionalArg(args, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)
}

func TestHTTPHandlerAlwaysAnswersEnvelope(t *testing.T) {
	gate := &fakeGate{allow: map[string]bool{"odyssey.rpc.sum": true}}
	d := NewDispatcher(gate, "odyssey", nil, nil)
	d.MustRegister("sum", func(_ context.Context, _ *shared.ActorToken, args []json.RawMessage) (any, error) {
		a, err := Arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Arg[int](args, 1)
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
	r := chi.NewRouter()
	NewHTTPHandler(d, nil, 0).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc/sum", strings.NewReader(`{"args":[2,3]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":null,"data":5}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc/secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":"access denied on odyssey.rpc.secret"}`, rec.Body.String())
}
