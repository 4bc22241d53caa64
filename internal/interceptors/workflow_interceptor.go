package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// WorkflowHTTPRoundTripper adds the enclosing Temporal activity's run identity
// to outgoing HTTP requests, so the model host or the vector database can correlate
// calls back to the fine-tuning run that issued them.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper creates a new HTTP interceptor that adds run metadata.
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper and injects workflow headers.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				// Not in an activity context (e.g. unit tests); continue without headers.
			}
		}()

		info := activity.GetInfo(req.Context())
		if info.WorkflowExecution.ID != "" {
			req.Header.Set("X-Run-Workflow-ID", info.WorkflowExecution.ID)
			req.Header.Set("X-Run-ID", info.WorkflowExecution.RunID)
		}
	}()

	return w.base.RoundTrip(req)
}
