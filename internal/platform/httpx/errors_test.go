package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

type forbiddenAfterOutage struct{}

func (forbiddenAfterOutage) Error() string { return "access denied on odyssey.role" }

func (forbiddenAfterOutage) Unwrap() []error {
	return []error{shared.ErrForbidden, shared.Transient("roles", errors.New("dial tcp: refused"))}
}

func TestRespondErrorStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"validation":                    {shared.NewValidationError("id", "required"), http.StatusBadRequest},
		"unauthorized":                  {fmt.Errorf("login: %w", shared.ErrUnauthorized), http.StatusUnauthorized},
		"forbidden wins over transient": {forbiddenAfterOutage{}, http.StatusForbidden},
		"not found":                     {&shared.NotFoundError{Resource: "channel", ID: "x"}, http.StatusNotFound},
		"conflict":                      {shared.ErrConflict, http.StatusConflict},
		"transient":                     {shared.Transient("redis", errors.New("timeout")), http.StatusServiceUnavailable},
		"unknown":                       {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, name)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"), name)
	}
}

func TestRespondErrorValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.ValidationError{Details: map[string]string{"content.text": "failed on required"}})

	var body ValidationProblem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Equal(t, "failed on required", body.Errors["content.text"])
}

func TestTransientHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.Transient("pg", errors.New("password authentication failed for user odyssey")))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSONLimitsBody(t *testing.T) {
	big := `{"text":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	var target map[string]string
	err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big)), &target)
	assert.Error(t, err)
}
