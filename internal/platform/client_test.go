package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/enforce"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*REST, *[]recordedRequest) {
	var requests []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				rec.body = body
			}
		}
		requests = append(requests, rec)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewREST(Options{
		BaseURL: server.URL,
		Token:   "test-token",
		// Plain client in tests: no transport-level retries or sleeps.
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	return client, &requests
}

func muteAction() *action.Action {
	expires := time.Date(2026, 5, 1, 12, 10, 0, 0, time.UTC)
	return &action.Action{
		SubjectID: "42",
		ScopeID:   "7",
		Kind:      action.KindMute,
		ExpiresAt: &expires,
		IssuerID:  "moderator-1",
		Reason:    "spam",
	}
}

func TestApplySendsRestriction(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.Apply(context.Background(), muteAction()))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/v1/guilds/7/members/42/restrictions/mute", req.path)
	assert.Equal(t, "Bearer test-token", req.auth)
	assert.Equal(t, "moderator-1", req.body["issuer_id"])
	assert.Equal(t, "spam", req.body["reason"])
}

func TestRetractDeletesRestriction(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Retract(context.Background(), muteAction()))

	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodDelete, (*requests)[0].method)
}

func TestRetractAbsentRestrictionIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such restriction", http.StatusNotFound)
	})

	assert.NoError(t, client.Retract(context.Background(), muteAction()))
}

func TestWarningsNeverReachThePlatform(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	warn := muteAction()
	warn.Kind = action.KindWarning
	warn.ExpiresAt = nil

	require.NoError(t, client.Apply(context.Background(), warn))
	require.NoError(t, client.Retract(context.Background(), warn))
	assert.Empty(t, *requests)
}

func TestRateLimitResponseIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	err := client.Apply(context.Background(), muteAction())
	require.Error(t, err)

	var retryable *enforce.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, 2*time.Second, retryable.RetryAfter)
	assert.False(t, enforce.IsFatal(err))
}

func TestServerErrorIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	})

	err := client.Apply(context.Background(), muteAction())
	require.Error(t, err)
	assert.False(t, enforce.IsFatal(err))
}

func TestPermissionErrorIsFatal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing permission", http.StatusForbidden)
	})

	err := client.Apply(context.Background(), muteAction())
	require.Error(t, err)
	assert.True(t, enforce.IsFatal(err))
}

func TestUnknownSubjectOnApplyIsFatal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown member", http.StatusNotFound)
	})

	err := client.Apply(context.Background(), muteAction())
	require.Error(t, err)
	assert.True(t, enforce.IsFatal(err))
}

func TestLocalRateLimiter(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := NewREST(Options{
		BaseURL:           server.URL,
		RequestsPerMinute: 2,
		HTTPClient:        server.Client(),
	})
	require.NoError(t, err)

	a := muteAction()
	require.NoError(t, client.Apply(context.Background(), a))
	require.NoError(t, client.Apply(context.Background(), a))

	err = client.Apply(context.Background(), a)
	require.Error(t, err)

	var retryable *enforce.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.Equal(t, 2, hits)
}
