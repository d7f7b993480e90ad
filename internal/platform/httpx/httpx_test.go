package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorClasses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail bool
	}{
		{fmt.Errorf("%w: amount", ErrValidation), http.StatusBadRequest, true},
		{fmt.Errorf("%w: account 9", ErrNotFound), http.StatusNotFound, true},
		{fmt.Errorf("%w: no TRM", ErrUnprocessable), http.StatusUnprocessableEntity, true},
		{fmt.Errorf("%w: recompute", ErrUnavailable), http.StatusServiceUnavailable, true},
		{errors.New("connection reset"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code)
		assert.Equal(t, tc.status, StatusOf(tc.err))
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "about:blank", body.Type)
		assert.Equal(t, tc.status, body.Status)
		if tc.detail {
			assert.Equal(t, tc.err.Error(), body.Detail)
		} else {
			assert.Empty(t, body.Detail)
		}
	}
}

func TestJSONWithoutBody(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}
