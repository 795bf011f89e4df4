package vcsmap

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/map/abc123", r.URL.Path)
		_, _ = w.Write([]byte(`{"revision":"sha-456"}`))
	}))
	defer srv.Close()

	rev, err := NewHTTPMapper(srv.URL, testLogger()).Translate(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "sha-456", rev)
}

func TestTranslateMissIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPMapper(srv.URL, testLogger()).Translate(context.Background(), "unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTranslateRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"revision":"sha-789"}`))
	}))
	defer srv.Close()

	rev, err := NewHTTPMapper(srv.URL, testLogger()).Translate(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "sha-789", rev)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTranslateEmptyRevisionIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"revision":""}`))
	}))
	defer srv.Close()

	_, err := NewHTTPMapper(srv.URL, testLogger()).Translate(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
