package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProtocolError(t *testing.T) {
	err := NewProtocolError("InvalidSessionId", "Invalid session id")

	assert.Equal(t, CategoryProtocol, err.Category)
	assert.Equal(t, "InvalidSessionId: Invalid session id", err.Error())
	assert.True(t, IsProtocol(err))
	assert.False(t, IsTransport(err))
}

func TestNewTimeoutError_CopiesOutstandingIDs(t *testing.T) {
	ids := []string{"751A", "751B"}
	err := NewTimeoutError("750X", ids)
	ids[0] = "changed"

	assert.Equal(t, []string{"751A", "751B"}, err.BatchIDs)
	assert.Equal(t, "750X", err.JobID)
	assert.Contains(t, err.Error(), "751A, 751B")
}

func TestOutstandingBatchIDs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("wait for job: %w", NewTimeoutError("750X", []string{"751A"}))

	assert.True(t, IsTimeout(err))
	assert.Equal(t, []string{"751A"}, OutstandingBatchIDs(err))
	assert.Nil(t, OutstandingBatchIDs(NewValidationError("records", "bad")))
}

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})

	t.Run("categorized error is returned as is", func(t *testing.T) {
		orig := NewValidationError("batch size", "must be positive")
		assert.Same(t, orig, Categorize(fmt.Errorf("wrapped: %w", orig)))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		got := Categorize(stderrors.New("boom"))
		require.NotNil(t, got)
		assert.Equal(t, CategorySystem, got.Category)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	})
}

func TestTransportErrorUnwrapsCause(t *testing.T) {
	err := NewTransportError("POST job", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection failure", NewTransportError("GET job/1", stderrors.New("reset")), true},
		{"server error", NewHTTPStatusError("GET job/1", http.StatusBadGateway, ""), true},
		{"throttled", NewHTTPStatusError("GET job/1", http.StatusTooManyRequests, ""), true},
		{"unauthorized", NewHTTPStatusError("GET job/1", http.StatusUnauthorized, ""), false},
		{"protocol", NewProtocolError("InvalidJob", "bad"), false},
		{"validation", NewValidationError("records", "bad"), false},
		{"plain", stderrors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryableUnsent(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: stderrors.New("connection reset")}
	circuitOpen := NewTransportError("POST job", stderrors.New("circuit breaker is open"))
	circuitOpen.Code = "CIRCUIT_OPEN"

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"never connected", NewTransportError("POST job", &url.Error{Op: "Post", URL: "http://x/job", Err: dial}), true},
		{"throttled", NewHTTPStatusError("POST job", http.StatusTooManyRequests, ""), true},
		{"circuit open", circuitOpen, true},
		{"client timeout", NewTransportError("POST job", context.DeadlineExceeded), false},
		{"reset after send", NewTransportError("POST job", read), false},
		{"server error", NewHTTPStatusError("POST job", http.StatusBadGateway, ""), false},
		{"protocol", NewProtocolError("InvalidJob", "bad"), false},
		{"plain", stderrors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableUnsent(tt.err))
		})
	}
}
