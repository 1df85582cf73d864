// Package batch runs collections of one-shot message requests as asynchronous
// jobs with a small lifecycle state machine: validating, in_progress, ended,
// with a cooperative canceling flag.
package batch

import (
	"time"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// Processing statuses of a batch job.
const (
	StatusValidating = "validating"
	StatusInProgress = "in_progress"
	StatusCanceling  = "canceling"
	StatusEnded      = "ended"
)

// Result type tags of per-item outcomes.
const (
	ResultSucceeded = "succeeded"
	ResultErrored   = "errored"
	ResultCanceled  = "canceled"
)

// expiry is how long after creation a batch is considered expired.
const expiry = 24 * time.Hour

// RequestItem is one entry of a batch submission.
type RequestItem struct {
	CustomID string                     `json:"custom_id" validate:"required"`
	Params   *anthropic.MessagesRequest `json:"params" validate:"required"`
}

// CreateRequest is the inbound batch creation body.
type CreateRequest struct {
	Requests []RequestItem `json:"requests" validate:"required,min=1,dive"`
}

// RequestCounts tracks per-item outcomes. At every observable point after
// creation, Processing+Succeeded+Errored+Canceled equals the number of
// submitted requests.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
}

// Batch is the externally visible job metadata.
type Batch struct {
	ID                string        `json:"id"`
	Type              string        `json:"type"`
	ProcessingStatus  string        `json:"processing_status"`
	RequestCounts     RequestCounts `json:"request_counts"`
	CreatedAt         time.Time     `json:"created_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	CancelInitiatedAt *time.Time    `json:"cancel_initiated_at,omitempty"`
	ResultsURL        string        `json:"results_url,omitempty"`
}

// ListResponse is the paginated batch listing body.
type ListResponse struct {
	Data    []*Batch `json:"data"`
	HasMore bool     `json:"has_more"`
}

// ItemResult is one record of the NDJSON results stream.
type ItemResult struct {
	CustomID string     `json:"custom_id"`
	Result   ResultBody `json:"result"`
}

// ResultBody is the tagged outcome of one item.
type ResultBody struct {
	Type    string                      `json:"type"`
	Message *anthropic.MessagesResponse `json:"message,omitempty"`
	Error   *anthropic.ErrorDetail      `json:"error,omitempty"`
}
