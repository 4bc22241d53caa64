package circuitbreaker

import (
    "net/http"
    "time"

    "go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker and records
// metrics consistently. Used for the vectordb HTTP API today; any future
// HTTP-based dependency (a second model host, a reranker service) reuses
// it rather than hand-rolling retry/backoff.
type HTTPWrapper struct {
    client  *http.Client
    cb      *CircuitBreaker
    name    string
    service string
    logger  *zap.Logger
}

// NewHTTPWrapper creates a new HTTP wrapper with circuit breaker and metrics
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
    if client == nil {
        client = &http.Client{Timeout: 5 * time.Second}
    }
    if logger == nil {
        logger, _ = zap.NewProduction()
    }
    cb := NewCircuitBreaker(name, GetHTTPConfig().ToConfig(), logger)
    GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
    return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do executes an HTTP request through the circuit breaker. 5xx responses
// and 429 (the dependency's overload signal) are treated as breaker failures; other
// 4xx responses do not trip the breaker since they indicate a bad request,
// not a degraded dependency.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
    var resp *http.Response
    err := hw.cb.Execute(req.Context(), func() error {
        var err2 error
        resp, err2 = hw.client.Do(req)
        if err2 != nil {
            return err2
        }
        if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
            return &httpStatusError{code: resp.StatusCode}
        }
        return nil
    })

    // Record metrics
    state := hw.cb.State()
    success := err == nil
    GlobalMetricsCollector.RecordRequest(hw.name, hw.service, state, success)

    // If the failure was just a status-code classification, the response
    // is still usable by the caller; only a breaker-open/too-many-requests
    // error from Execute itself means no response was attempted.
    if _, ok := err.(*httpStatusError); ok {
        return resp, nil
    }
    return resp, err
}

// httpStatusError marks 5xx and 429 responses for breaker accounting
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
