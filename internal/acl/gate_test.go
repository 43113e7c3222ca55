package acl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

type staticSource struct {
	entries Entries
	err     error
	calls   int
}

func (s *staticSource) GetEntries(context.Context, string, string) (Entries, error) {
	s.calls++
	return s.entries, s.err
}

func TestGateRequiresEveryLetter(t *testing.T) {
	src := &staticSource{entries: Entries{Actions: actions(t, "r")}}
	gate := NewGate(src, "en", nil, nil)
	ctx := context.Background()

	require.NoError(t, gate.Check(ctx, nil, "odyssey.chan", "r", General, ""))

	err := gate.Check(ctx, nil, "odyssey.chan", "rc", General, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "rc", denied.Required)
	assert.Nil(t, denied.Cause)
}

func TestGateSelectsActionType(t *testing.T) {
	src := &staticSource{entries: Entries{Actions: actions(t, "r"), MemberActions: actions(t, "lp")}}
	gate := NewGate(src, "en", nil, nil)
	ctx := context.Background()
	token := &shared.ActorToken{ActorID: "alice"}

	assert.NoError(t, gate.Check(ctx, token, "odyssey.chan", "p", Member, ""))
	assert.Error(t, gate.Check(ctx, token, "odyssey.chan", "p", General, ""))
	assert.Error(t, gate.Check(ctx, token, "odyssey.chan", "p", Owner, ""))
}

func TestGateDeniesEmptySet(t *testing.T) {
	gate := NewGate(&staticSource{}, "en", nil, nil)

	err := gate.Check(context.Background(), nil, "odyssey.chan", "", General, "")
	assert.True(t, errors.Is(err, shared.ErrForbidden))
}

func TestGateRejectsUnknownRequiredLetter(t *testing.T) {
	src := &staticSource{entries: Entries{Actions: actions(t, "crudxelp")}}
	gate := NewGate(src, "en", nil, nil)

	err := gate.Check(context.Background(), nil, "odyssey.chan", "rz", General, "")
	assert.True(t, errors.Is(err, shared.ErrForbidden))
}

func TestGateFailsClosed(t *testing.T) {
	boom := shared.Transient("rules: query", errors.New("dial tcp: refused"))
	gate := NewGate(&staticSource{err: boom}, "en", nil, observability.NewMetrics())

	err := gate.Check(context.Background(), nil, "odyssey.chan", "r", General, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	assert.True(t, errors.Is(err, shared.ErrTransient))
	assert.Equal(t, "nope", err.Error())
}

func TestGateLocalizedMessage(t *testing.T) {
	gate := NewGate(&staticSource{}, "de", nil, nil)
	ctx := context.Background()

	err := gate.Check(ctx, nil, "odyssey.chan", "r", General, "")
	assert.Equal(t, "Zugriff verweigert auf odyssey.chan", err.Error())

	err = gate.Check(ctx, &shared.ActorToken{ActorID: "a", Locale: "id"}, "odyssey.chan", "r", General, "")
	assert.Equal(t, "akses ditolak pada odyssey.chan", err.Error())

	err = gate.Check(ctx, &shared.ActorToken{ActorID: "a", Locale: "fr"}, "odyssey.chan", "r", General, "")
	assert.Equal(t, "access denied on odyssey.chan", err.Error())

	err = gate.Check(ctx, nil, "odyssey.chan", "r", General, "custom")
	assert.Equal(t, "custom", err.Error())
}

func TestMiddlewareRequire(t *testing.T) {
	src := &staticSource{entries: Entries{Actions: actions(t, "r")}}
	mw := Middleware{Gate: NewGate(src, "en", nil, nil), Domain: "odyssey"}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	mw.RequireCRUD("role")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mw.RequireCRUD("role")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/roles/x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mw.Require("rule", "rc")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTopicJoinsSegments(t *testing.T) {
	assert.Equal(t, "odyssey.rpc.publish", Topic("odyssey", "rpc", "publish"))
	assert.Equal(t, "odyssey.chan", Topic("odyssey.", ".chan", ""))
	assert.Equal(t, "chan", Topic("", "chan"))
}
