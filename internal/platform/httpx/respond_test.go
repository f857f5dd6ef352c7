package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsClasses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
		detail bool
	}{
		{fmt.Errorf("unit 3: %w", ErrNotFound), http.StatusNotFound, "/problems/not_found", true},
		{fmt.Errorf("name: %w", ErrDuplicate), http.StatusConflict, "/problems/duplicate", true},
		{fmt.Errorf("in use: %w", ErrConflict), http.StatusConflict, "/problems/conflict", true},
		{fmt.Errorf("abbreviation: %w", ErrValidation), http.StatusUnprocessableEntity, "/problems/invalid_input", true},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError, "/problems/internal", false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.typ, body.Type)
		require.Equal(t, tc.status, body.Status)
		if tc.detail {
			require.Equal(t, tc.err.Error(), body.Detail)
		} else {
			require.Empty(t, body.Detail)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Caja","colour":"red"}`))
	require.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Caja"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "Caja", dst.Name)
}
