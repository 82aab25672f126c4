package circuitbreaker

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// errServerStatus marks a 5xx response for breaker accounting.
var errServerStatus = errors.New("server error status")

// HTTPWrapper wraps an http.Client with a per-backend breaker. A 5xx
// response counts as a failure for breaker accounting but is still returned
// to the caller for inspection.
type HTTPWrapper struct {
	client  *http.Client
	breaker *Breaker
}

// NewHTTPWrapper wraps client for the named backend.
func NewHTTPWrapper(client *http.Client, backend string, logger *zap.Logger) *HTTPWrapper {
	return &HTTPWrapper{
		client:  client,
		breaker: New(backend, DefaultSettings(), logger),
	}
}

// Do executes the request under the breaker.
func (w *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.breaker.Do(func() error {
		r, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	})
	if resp != nil {
		// Server errors are the caller's to interpret; only transport
		// failures and an open breaker surface as errors.
		return resp, nil
	}
	return nil, err
}

// IsOpen reports whether the underlying breaker is refusing calls.
func (w *HTTPWrapper) IsOpen() bool { return w.breaker.IsOpen() }
