package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProblemDetails_JSON tests that extensions sit beside the standard members
func TestProblemDetails_JSON(t *testing.T) {
	p := NewProblemDetails(http.StatusUnprocessableEntity, TypeMissingSeries, "Missing Series", "no forward rates", "/api/reports/discount_rate").
		WithExtension("series", "forward_rates")

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "forward_rates", flat["series"])
	assert.Equal(t, float64(http.StatusUnprocessableEntity), flat["status"])
	assert.NotContains(t, flat, "Extensions")

	var back ProblemDetails
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p.Type, back.Type)
	assert.Equal(t, p.Instance, back.Instance)
	assert.Equal(t, map[string]interface{}{"series": "forward_rates"}, back.Extensions)

	t.Run("empty members omitted", func(t *testing.T) {
		raw, err := json.Marshal(NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "", ""))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "detail")
		assert.NotContains(t, string(raw), "instance")
	})

	t.Run("zero value accepts extensions", func(t *testing.T) {
		var pd ProblemDetails
		pd.WithExtension("k", 1)
		assert.Equal(t, 1, pd.Extensions["k"])
	})
}

// TestWriteProblem tests the response headers
func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, NewProblemDetails(http.StatusConflict, TypeMissingCurve, "Missing Curve", "", "/x"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ContentTypeProblem, w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"/errors/alm/missing-curve","title":"Missing Curve","status":409,"instance":"/x"}`, w.Body.String())
}

// TestAppError tests wrapping and context
func TestAppError(t *testing.T) {
	cause := assert.AnError
	err := NewMarketDataError("load forward_rates.csv", cause).WithContext("dir", "/data")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrTypeMarketData, err.Type)
	assert.Equal(t, "/data", err.Context["dir"])
	assert.Contains(t, err.Error(), "load forward_rates.csv")
	assert.Contains(t, err.Error(), cause.Error())

	nf := NewNotFoundError("report")
	assert.Nil(t, nf.Unwrap())
	assert.Equal(t, ErrTypeNotFound, nf.Type)
}
