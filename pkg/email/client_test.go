package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestSendSuccess(t *testing.T) {
	var gotAuth string
	var gotMsg Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMsg))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "msg-123"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "secret"}, testLogger())
	result, err := client.Send(context.Background(), &Message{
		From:    "reports@example.com",
		To:      []string{"alice@example.com"},
		Subject: "Your overnight report",
		Text:    "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "msg-123", result.MessageID)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, []string{"alice@example.com"}, gotMsg.To)
}

func TestSendRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())
	_, err := client.Send(context.Background(), &Message{To: []string{"alice@example.com"}})
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.RateLimited)
	assert.Equal(t, 3*time.Second, sendErr.RetryAfter)
}

func TestSendProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("invalid recipient"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())
	_, err := client.Send(context.Background(), &Message{To: []string{"bad"}})
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.False(t, sendErr.RateLimited)
	assert.Equal(t, http.StatusUnprocessableEntity, sendErr.StatusCode)
	assert.Contains(t, sendErr.Body, "invalid recipient")
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfter(h))

	h.Set("Retry-After", "5")
	assert.Equal(t, 5*time.Second, retryAfter(h))

	h.Set("Retry-After", "-1")
	assert.Equal(t, time.Duration(0), retryAfter(h))

	// Only the seconds form is supported
	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	assert.Equal(t, time.Duration(0), retryAfter(h))
}
