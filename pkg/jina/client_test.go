package jina

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/https://acme.com/about", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "7", r.Header.Get("X-Timeout"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("\nAcme builds rockets.\n"))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL+"/"), WithRenderTimeout(7*time.Second))
	text, err := c.Read(context.Background(), "https://acme.com/about")
	require.NoError(t, err)
	assert.Equal(t, "Acme builds rockets.", text)
}

func TestRead_WithKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jina-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient("jina-key", WithBaseURL(srv.URL))
	_, err := c.Read(context.Background(), "https://acme.com")
	require.NoError(t, err)
}

func TestRead_APIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		limited bool
	}{
		{"unavailable", http.StatusServiceUnavailable, false},
		{"throttled", http.StatusTooManyRequests, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("busy\n"))
			}))
			defer srv.Close()

			_, err := NewClient("", WithBaseURL(srv.URL)).Read(context.Background(), "https://acme.com")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "busy", apiErr.Body)
			assert.Equal(t, tt.limited, apiErr.RateLimited())
		})
	}
}

func TestRead_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient("").Read(context.Background(), "")
	require.Error(t, err)
}
