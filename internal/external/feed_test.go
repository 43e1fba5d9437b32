package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/types"
)

func newTestFeedClient(t *testing.T, url string) *FeedClient {
	t.Helper()
	httpClient := &http.Client{Timeout: 5 * time.Second}
	breaker := NewBreaker("feed-test")
	return NewFeedClientWithBase(
		NewBaseClient(httpClient, "feed-test", NoRetryPolicy(), "AlertStream-Test/1.0", WithBreaker(breaker), WithSleepFunc(noopSleep)),
		NewBaseClient(httpClient, "feed-test", fastPolicy(2), "AlertStream-Test/1.0", WithBreaker(breaker), WithSleepFunc(noopSleep)),
		FeedClientConfig{BaseURL: url + "/"},
	)
}

func TestFeedClient_CreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "relay.example", body["identifier"])
		assert.Equal(t, "app-password", body["password"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken":"tok-1","accountId":"did:example:1","expiresInSeconds":900}`))
	}))
	defer server.Close()

	grant, err := newTestFeedClient(t, server.URL).CreateSession(context.Background(), "relay.example", types.SecretString("app-password"))
	require.NoError(t, err)
	assert.Equal(t, "tok-1", grant.AccessToken)
	assert.Equal(t, "did:example:1", grant.AccountID)
	assert.Equal(t, 900, grant.ExpiresInSeconds)
}

func TestFeedClient_CreateSession_RejectedCredentials(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"AuthenticationRequired"}`))
		}))

		_, err := newTestFeedClient(t, server.URL).CreateSession(context.Background(), "relay.example", types.SecretString("wrong"))
		assert.Equal(t, types.ErrCodeAuthInvalidCreds, types.CodeOf(err), "status %d", status)
		server.Close()
	}
}

func TestFeedClient_CreateSession_ServerErrorIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestFeedClient(t, server.URL).CreateSession(context.Background(), "relay.example", types.SecretString("pw"))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
}

func TestFeedClient_CreateSession_MissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accountId":"did:example:1"}`))
	}))
	defer server.Close()

	_, err := newTestFeedClient(t, server.URL).CreateSession(context.Background(), "relay.example", types.SecretString("pw"))
	assert.Equal(t, types.ErrCodeUpstreamRejected, types.CodeOf(err))
}

func TestFeedClient_UploadBlob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blob", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{1, 2, 3}, data)
		w.Write([]byte(`{"blobRef":{"ref":"bafk","size":3}}`))
	}))
	defer server.Close()

	ref, err := newTestFeedClient(t, server.URL).UploadBlob(context.Background(), "tok-1",
		types.Attachment{Name: "a.png", MimeType: "image/png", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ref":"bafk","size":3}`, string(ref))
}

func TestFeedClient_UploadBlob_MissingRef(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := newTestFeedClient(t, server.URL).UploadBlob(context.Background(), "tok-1", types.Attachment{Data: []byte{1}})
	assert.Equal(t, types.ErrCodeUpstreamRejected, types.CodeOf(err))
}

func TestFeedClient_CreateRecord(t *testing.T) {
	var got RecordRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/record", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"uri":"at://did:example:1/post/1","cid":"bafy"}`))
	}))
	defer server.Close()

	created := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	ack, err := newTestFeedClient(t, server.URL).CreateRecord(context.Background(), "tok-1", RecordRequest{
		Text:      "Rain detected",
		CreatedAt: FormatRecordTime(created),
	})
	require.NoError(t, err)
	assert.Equal(t, "at://did:example:1/post/1", ack.URI)
	assert.Equal(t, "bafy", ack.CID)

	assert.Equal(t, "2026-03-01T11:30:00.000Z", got.CreatedAt)
	assert.NotNil(t, got.Facets, "facets must be sent as an empty array, not null")
}

func TestFeedClient_CreateRecord_StatusError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"ExpiredToken"}`))
	}))
	defer server.Close()

	_, err := newTestFeedClient(t, server.URL).CreateRecord(context.Background(), "stale", RecordRequest{Text: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "/record", se.Endpoint)
	assert.Contains(t, se.Body, "ExpiredToken")
	assert.Equal(t, 1, calls)
}

func TestFeedClient_CreateRecord_ServerErrorNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestFeedClient(t, server.URL).CreateRecord(context.Background(), "tok", RecordRequest{Text: "x"})
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	assert.Equal(t, 1, calls)
}

func TestFeedClient_CustomPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/login", r.URL.Path)
		w.Write([]byte(`{"accessToken":"t"}`))
	}))
	defer server.Close()

	c := NewFeedClient(&http.Client{Timeout: time.Second}, FeedClientConfig{BaseURL: server.URL, SessionPath: "xrpc/login"})
	_, err := c.CreateSession(context.Background(), "id", types.SecretString("pw"))
	require.NoError(t, err)
}
