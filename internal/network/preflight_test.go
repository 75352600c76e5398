// File: internal/network/preflight_test.go
package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	preflightBackoff = time.Millisecond
	os.Exit(m.Run())
}

func TestPreflightSucceedsFirstTry(t *testing.T) {
	var gotUA, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotHeader = r.Header.Get("X-Probe")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Preflight(context.Background(), srv.Client(), srv.URL,
		"chatprobe-test", map[string]string{"X-Probe": "yes"}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "chatprobe-test", gotUA)
	assert.Equal(t, "yes", gotHeader)
}

func TestPreflightRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Preflight(context.Background(), srv.Client(), srv.URL, "", nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPreflightTreatsClientErrorsAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result, err := Preflight(context.Background(), srv.Client(), srv.URL, "", nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
}

func TestPreflightGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Preflight(context.Background(), srv.Client(), srv.URL, "", nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestPreflightHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Preflight(ctx, srv.Client(), srv.URL, "", nil, zap.NewNop())
	require.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil)
	require.NotNil(t, client.Transport)
	assert.Equal(t, defaultRequestTimeout, client.Timeout)
}
