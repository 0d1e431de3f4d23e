package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func msg(content string) ingest.CanonicalMessage {
	return ingest.CanonicalMessage{
		SourceType:      ingest.SourceTypeWebsite,
		SourceName:      "Party News",
		Content:         content,
		MessageType:     "article",
		GeographicScope: ingest.ScopeNational,
	}
}

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL + "/", APIKey: "secret", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return client
}

func TestIngestBulkSuccess(t *testing.T) {
	t.Parallel()
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, BulkPath, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		var body bulkRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Messages, 2)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"status":"created","id":"a"},{"status":"duplicate","id":"b"}]}`))
	})

	results, err := client.IngestBulk(context.Background(), []ingest.CanonicalMessage{msg("one"), msg("two")})
	require.NoError(t, err)
	require.Equal(t, []ingest.ItemResult{
		{Status: ingest.ItemCreated, ID: "a"},
		{Status: ingest.ItemDuplicate, ID: "b"},
	}, results)
}

func TestIngestBulkStatusClasses(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		status     int
		retryAfter string
		want       ingest.DeliveryClass
		wantWait   time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "17", ingest.DeliveryRateLimited, 17 * time.Second},
		{"server error", http.StatusBadGateway, "", ingest.DeliveryRetryable, 0},
		{"request timeout", http.StatusRequestTimeout, "", ingest.DeliveryRetryable, 0},
		{"validation", http.StatusUnprocessableEntity, "", ingest.DeliveryTerminal, 0},
		{"unauthorized", http.StatusUnauthorized, "", ingest.DeliveryTerminal, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})
			_, err := client.IngestBulk(context.Background(), []ingest.CanonicalMessage{msg("one"), msg("two")})
			var deliveryErr *ingest.DeliveryError
			require.ErrorAs(t, err, &deliveryErr)
			require.Equal(t, tc.want, deliveryErr.Class)
			require.Equal(t, tc.status, deliveryErr.StatusCode)
			require.Equal(t, tc.wantWait, deliveryErr.RetryAfter)
			require.Equal(t, "nope", deliveryErr.Reason)
		})
	}
}

func TestIngestBulkTransportErrorIsRetryable(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client, err := New(Config{BaseURL: server.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = client.IngestBulk(context.Background(), []ingest.CanonicalMessage{msg("one")})
	var deliveryErr *ingest.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	require.Equal(t, ingest.DeliveryRetryable, deliveryErr.Class)
}

func TestIngestOne(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SinglePath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"status":"created","id":"new-id"}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"content too long"}`))
	})

	result, err := client.IngestOne(context.Background(), msg("one"))
	require.NoError(t, err)
	require.Equal(t, ingest.ItemResult{Status: ingest.ItemCreated, ID: "new-id"}, result)

	result, err = client.IngestOne(context.Background(), msg("two"))
	require.NoError(t, err)
	require.Equal(t, ingest.ItemResult{Status: ingest.ItemRejected, Reason: "content too long"}, result)
}

func TestPing(t *testing.T) {
	t.Parallel()
	healthy := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, healthy.Ping(context.Background()))

	down := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.Error(t, down.Ping(context.Background()))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	require.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, parseRetryAfter("", now))
	require.Zero(t, parseRetryAfter("-5", now))
	require.Zero(t, parseRetryAfter("soon", now))
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
