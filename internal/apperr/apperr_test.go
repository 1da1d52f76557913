package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "missing parameter", err: MissingParameter("city"), expected: http.StatusBadRequest},
		{name: "invalid parameter", err: InvalidParameter("surface", "must be positive"), expected: http.StatusBadRequest},
		{name: "invalid timeframe", err: InvalidTimeframe("last decade"), expected: http.StatusBadRequest},
		{name: "invalid range", err: InvalidRange("start after end"), expected: http.StatusBadRequest},
		{name: "ambiguous", err: AmbiguousLocation("city", "Springfield", 2), expected: http.StatusBadRequest},
		{name: "not found", err: LocationNotFound("area", "Nowhere"), expected: http.StatusNotFound},
		{name: "store", err: StoreUnavailable(errors.New("connection refused")), expected: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("resolve: %w", LocationNotFound("city", "Atlantis")), expected: http.StatusNotFound},
		{name: "unclassified", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Status(tt.err))
		})
	}
}

func TestErrorMessageNamesField(t *testing.T) {
	err := LocationNotFound("province", "Attica")
	assert.Equal(t, `LocationNotFound(province): province "Attica" not found`, err.Error())

	kind, ok := KindOf(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindLocationNotFound, kind)
}

func TestRetryable(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := StoreUnavailable(cause)

	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, Retryable(MissingParameter("action")))
}
