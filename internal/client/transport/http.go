// Package transport implements the terminal's HTTP client for the POS
// offline API: batch upload, status poll, pairing, and export presign. Every
// call carries a bounded timeout; a transport-level failure is reported as
// ErrUnavailable so callers treat the outcome as unknown, never as failed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/wire"
)

// Client talks to the POS offline server API.
type Client interface {
	// Ping probes server reachability. Used by the online-status watcher.
	Ping(ctx context.Context) error

	// UploadBatch posts encrypted entries and returns per-entry results.
	UploadBatch(ctx context.Context, items []wire.UploadItem) ([]wire.UploadResult, error)

	// Status polls reconciliation status per idempotency key.
	Status(ctx context.Context, idempotencyKeys []string) ([]wire.StatusItem, error)

	// PairDevice initiates pairing and returns the short-lived code.
	PairDevice(ctx context.Context, req wire.PairDeviceRequest) (*wire.PairDeviceResponse, error)

	// CompletePairing exchanges a pairing code for key material and a device
	// token. The token is retained for subsequent calls.
	CompletePairing(ctx context.Context, req wire.CompletePairingRequest) (*wire.CompletePairingResponse, error)

	// Heartbeat updates device liveness metadata.
	Heartbeat(ctx context.Context, firmwareVersion string) error

	// RotateKey requests a fresh encryption key for this device.
	RotateKey(ctx context.Context) (*wire.RotateKeyResponse, error)

	// ExportURL requests a presigned PUT URL for a support artifact.
	ExportURL(ctx context.Context) (*wire.ExportURLResponse, error)

	// SetDeviceToken installs the device JWT used on authenticated calls.
	SetDeviceToken(token string)
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	// mu guards deviceToken: pairing installs it on the REPL goroutine
	// while the connectivity watcher and background sync read it.
	mu          sync.Mutex
	deviceToken string
}

// NewHTTPClient builds a client for the given base URL (e.g.
// "http://127.0.0.1:8080"). timeout bounds every call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *HTTPClient) SetDeviceToken(token string) {
	c.mu.Lock()
	c.deviceToken = token
	c.mu.Unlock()
}

func (c *HTTPClient) getDeviceToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceToken
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

func (c *HTTPClient) UploadBatch(ctx context.Context, items []wire.UploadItem) ([]wire.UploadResult, error) {
	req := wire.UploadRequest{Transactions: items}
	var resp wire.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/pos/offline/upload", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *HTTPClient) Status(ctx context.Context, idempotencyKeys []string) ([]wire.StatusItem, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(idempotencyKeys, ","))

	var resp wire.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/pos/offline/status?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

func (c *HTTPClient) PairDevice(ctx context.Context, req wire.PairDeviceRequest) (*wire.PairDeviceResponse, error) {
	var resp wire.PairDeviceResponse
	if err := c.do(ctx, http.MethodPost, "/pos/devices/pair", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CompletePairing(ctx context.Context, req wire.CompletePairingRequest) (*wire.CompletePairingResponse, error) {
	var resp wire.CompletePairingResponse
	if err := c.do(ctx, http.MethodPost, "/pos/devices/complete-pairing", req, &resp); err != nil {
		return nil, err
	}
	c.SetDeviceToken(resp.DeviceToken)
	return &resp, nil
}

func (c *HTTPClient) Heartbeat(ctx context.Context, firmwareVersion string) error {
	req := wire.HeartbeatRequest{FirmwareVersion: firmwareVersion}
	var out map[string]string
	return c.do(ctx, http.MethodPost, "/pos/devices/heartbeat", req, &out)
}

func (c *HTTPClient) RotateKey(ctx context.Context) (*wire.RotateKeyResponse, error) {
	var resp wire.RotateKeyResponse
	if err := c.do(ctx, http.MethodPost, "/pos/devices/rotate-key", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ExportURL(ctx context.Context) (*wire.ExportURLResponse, error) {
	var resp wire.ExportURLResponse
	if err := c.do(ctx, http.MethodPost, "/pos/offline/export-url", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.getDeviceToken(); token != "" {
		req.Header.Set(common.DeviceTokenHeaderName, common.DeviceTokenScheme+" "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(b))
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed: %s: %s", resp.Status, string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
