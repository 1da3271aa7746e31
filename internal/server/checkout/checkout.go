// Package checkout invokes the Checkout Service for reconciled offline
// transactions. The caller passes the idempotency key through so the
// downstream service can dedup too; the worker still guarantees at most one
// invocation per key on this side.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TransientError marks a failure worth retrying: timeouts, connection
// errors, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient checkout error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on retry: validation
// rejections and other 4xx responses.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent checkout error: %s", e.Reason) }

// Service executes one offline sale against the Checkout Service.
type Service interface {
	// Execute submits the decrypted transaction payload under the given
	// idempotency key and returns the checkout order reference.
	Execute(ctx context.Context, idempotencyKey string, payload []byte) (string, error)
}

// HTTPService is the production Service implementation.
type HTTPService struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	return &HTTPService{baseURL: baseURL, http: &http.Client{}, timeout: timeout}
}

type checkoutResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func (s *HTTPService) Execute(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/internal/checkout/offline", bytes.NewReader(payload))
	if err != nil {
		return "", &PermanentError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("checkout returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		var cr checkoutResponse
		reason := fmt.Sprintf("checkout returned %d", resp.StatusCode)
		if json.Unmarshal(body, &cr) == nil && cr.Error != "" {
			reason = cr.Error
		}
		return "", &PermanentError{Reason: reason}
	}

	var cr checkoutResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", &TransientError{Err: fmt.Errorf("decoding checkout response: %w", err)}
	}
	if cr.Reference == "" {
		return "", &TransientError{Err: fmt.Errorf("checkout response missing reference")}
	}
	return cr.Reference, nil
}
