package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villagecompute/posoffline/internal/wire"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, 5*time.Second)
}

func TestDeviceTokenHeader(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	require.NoError(t, c.Ping(context.Background()))
	assert.Empty(t, got)

	c.SetDeviceToken("tok-123")
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "Bearer tok-123", got)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := c.Ping(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", time.Second)
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCompletePairingInstallsToken(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pos/devices/complete-pairing":
			fmt.Fprint(w, `{"deviceId":"dev-1","encryptionKey":"a2V5","encryptionKeyVersion":1,"deviceToken":"tok-abc"}`)
		default:
			got = r.Header.Get("Authorization")
			fmt.Fprint(w, `{"status":"ok"}`)
		}
	})

	_, err := c.CompletePairing(context.Background(), wire.CompletePairingRequest{
		TenantID:         "tenant1",
		DeviceIdentifier: "till-01",
		PairingCode:      "ABCD2345",
	})
	require.NoError(t, err)

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "Bearer tok-abc", got)
}

// The connectivity watcher pings in the background while pairing installs
// the token from the REPL goroutine; both sides run here concurrently so
// the race detector covers the token access.
func TestDeviceTokenConcurrentAccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = c.Ping(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.SetDeviceToken(fmt.Sprintf("tok-%d", i))
		}
	}()
	wg.Wait()

	assert.Equal(t, "tok-49", c.getDeviceToken())
}
