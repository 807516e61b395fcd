package cloudcode

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfterHeaderWins(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	body := []byte(`{"error": {"details": [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "3s"}]}}`)

	assert.Equal(t, 30*time.Second, ParseRetryAfter(headers, body))
}

func TestParseRetryAfterDelayString(t *testing.T) {
	body := []byte(`{"error": {"message": "quota", "retryDelay": "3s"}}`)
	assert.Equal(t, 3*time.Second, ParseRetryAfter(http.Header{}, body))
}

func TestParseRetryAfterRetryInfo(t *testing.T) {
	body := []byte(`{"error": {"details": [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}]}}`)
	assert.Equal(t, 7*time.Second, ParseRetryAfter(http.Header{}, body))
}

func TestParseRetryAfterRetryInfoSecondsObject(t *testing.T) {
	body := []byte(`{"error": {"details": [{"retryDelay": {"seconds": 12}}]}}`)
	assert.Equal(t, 12*time.Second, ParseRetryAfter(http.Header{}, body))
}

func TestParseRetryAfterNoHint(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(http.Header{}, []byte(`{"error": {"message": "quota"}}`)))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(http.Header{}, nil))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(http.Header{}, []byte("not json")))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRateLimit(&RateLimitError{Endpoint: "x"}))
	assert.False(t, IsRateLimit(&AuthError{}))
	assert.True(t, IsAuthError(&AuthError{StatusCode: 401}))
	assert.True(t, IsEmptyResponseError(NewEmptyResponseError("empty")))

	upstream := &UpstreamError{StatusCode: 503}
	assert.True(t, upstream.Retryable())
	assert.False(t, (&UpstreamError{StatusCode: 404}).Retryable())
}

func TestUpstreamErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", UpstreamErrorMessage([]byte(`{"error": {"message": "boom"}}`)))
	assert.Equal(t, "plain text", UpstreamErrorMessage([]byte("plain text")))
}
