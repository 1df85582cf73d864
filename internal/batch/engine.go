package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
)

// Runner executes one message request to completion. *adapter.Adapter
// satisfies it.
type Runner interface {
	CreateMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error)
}

// job pairs the visible batch metadata with the worker's private state. All
// fields are guarded by mu; the worker and the cancel path are the only
// writers.
type job struct {
	mu       sync.Mutex
	batch    Batch
	requests []RequestItem
	results  []ItemResult
	cancel   bool
}

// Engine owns the batch jobs and their workers. Jobs are retained in memory
// for their whole lifetime; completed jobs are not evicted.
type Engine struct {
	mu       sync.RWMutex
	jobs     map[string]*job
	runner   Runner
	registry *config.ModelRegistry
	validate *validator.Validate

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine creates an engine processing items through runner, resolving
// models against registry.
func NewEngine(runner Runner, registry *config.ModelRegistry) *Engine {
	return &Engine{
		jobs:     make(map[string]*job),
		runner:   runner,
		registry: registry,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create validates the submission, registers the job and starts its worker.
// It returns immediately with the job metadata; results become available only
// once the job has ended.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*Batch, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, anthropic.NewInvalidRequestError(fmt.Sprintf("invalid batch request: %v", err))
	}
	seen := make(map[string]struct{}, len(req.Requests))
	for _, item := range req.Requests {
		if _, dup := seen[item.CustomID]; dup {
			return nil, anthropic.NewInvalidRequestError(fmt.Sprintf("duplicate custom_id %q", item.CustomID))
		}
		seen[item.CustomID] = struct{}{}
	}

	now := e.now()
	j := &job{
		batch: Batch{
			ID:               "msgbatch_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
			Type:             "message_batch",
			ProcessingStatus: StatusValidating,
			RequestCounts:    RequestCounts{Processing: len(req.Requests)},
			CreatedAt:        now,
			ExpiresAt:        now.Add(expiry),
		},
		requests: req.Requests,
	}

	e.mu.Lock()
	e.jobs[j.batch.ID] = j
	e.mu.Unlock()

	// The worker outlives the submitting request.
	go e.run(context.WithoutCancel(ctx), j)

	return snapshot(j), nil
}

// Get returns the job metadata.
func (e *Engine) Get(id string) (*Batch, error) {
	j, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return snapshot(j), nil
}

// List returns all jobs ordered by creation time, newest first. A positive
// limit truncates the listing.
func (e *Engine) List(limit int) *ListResponse {
	e.mu.RLock()
	all := make([]*job, 0, len(e.jobs))
	for _, j := range e.jobs {
		all = append(all, j)
	}
	e.mu.RUnlock()

	out := make([]*Batch, 0, len(all))
	for _, j := range all {
		out = append(out, snapshot(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	hasMore := false
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		hasMore = true
	}
	return &ListResponse{Data: out, HasMore: hasMore}
}

// Cancel requests cooperative cancellation. Items already processed keep
// their outcomes; the worker marks the remaining ones canceled. Canceling an
// ended job is a no-op.
func (e *Engine) Cancel(id string) (*Batch, error) {
	j, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	if j.batch.ProcessingStatus != StatusEnded && !j.cancel {
		j.cancel = true
		now := e.now()
		j.batch.CancelInitiatedAt = &now
		j.batch.ProcessingStatus = StatusCanceling
	}
	j.mu.Unlock()

	return snapshot(j), nil
}

// Results returns the ordered per-item outcomes. Asking before the job has
// ended is a client error, not an empty list.
func (e *Engine) Results(id string) ([]ItemResult, error) {
	j, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.batch.ProcessingStatus != StatusEnded {
		return nil, anthropic.NewInvalidRequestError(fmt.Sprintf("batch %s has not ended yet", id))
	}
	out := make([]ItemResult, len(j.results))
	copy(out, j.results)
	return out, nil
}

func (e *Engine) lookup(id string) (*job, error) {
	e.mu.RLock()
	j, ok := e.jobs[id]
	e.mu.RUnlock()
	if !ok {
		return nil, anthropic.NewNotFoundError(fmt.Sprintf("batch %s not found", id))
	}
	return j, nil
}

// run processes the job's items strictly sequentially and finally marks the
// job ended, whatever the item outcomes were.
func (e *Engine) run(ctx context.Context, j *job) {
	j.mu.Lock()
	if j.batch.ProcessingStatus == StatusValidating {
		j.batch.ProcessingStatus = StatusInProgress
	}
	requests := j.requests
	j.mu.Unlock()

	for _, item := range requests {
		j.mu.Lock()
		canceled := j.cancel
		j.mu.Unlock()

		if canceled {
			e.record(j, item.CustomID, ResultBody{Type: ResultCanceled}, func(c *RequestCounts) { c.Canceled++ })
			continue
		}

		e.processItem(ctx, j, item)
	}

	j.mu.Lock()
	now := e.now()
	j.batch.ProcessingStatus = StatusEnded
	j.batch.EndedAt = &now
	j.mu.Unlock()
	slog.InfoContext(ctx, "batch ended", "batch_id", j.batch.ID, "counts", j.batch.RequestCounts)
}

// processItem runs one item through the one-shot path. Failures are item
// outcomes, never job failures.
func (e *Engine) processItem(ctx context.Context, j *job, item RequestItem) {
	if _, ok := e.registry.Resolve(item.Params.Model); !ok {
		e.record(j, item.CustomID, ResultBody{
			Type:  ResultErrored,
			Error: &anthropic.ErrorDetail{Type: anthropic.ErrTypeInvalidRequest, Message: fmt.Sprintf("unknown model: %s", item.Params.Model)},
		}, func(c *RequestCounts) { c.Errored++ })
		return
	}

	msg, err := e.runner.CreateMessage(ctx, item.Params)
	if err != nil {
		e.record(j, item.CustomID, ResultBody{
			Type:  ResultErrored,
			Error: errorDetail(err),
		}, func(c *RequestCounts) { c.Errored++ })
		return
	}

	e.record(j, item.CustomID, ResultBody{Type: ResultSucceeded, Message: msg}, func(c *RequestCounts) { c.Succeeded++ })
}

// record appends an item outcome and adjusts the counts in one critical
// section so the counts invariant holds at every observable point.
func (e *Engine) record(j *job, customID string, body ResultBody, bump func(*RequestCounts)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, ItemResult{CustomID: customID, Result: body})
	j.batch.RequestCounts.Processing--
	bump(&j.batch.RequestCounts)
}

func errorDetail(err error) *anthropic.ErrorDetail {
	if resp, ok := err.(*anthropic.ErrorResponse); ok {
		detail := resp.Err
		return &detail
	}
	return &anthropic.ErrorDetail{Type: anthropic.ErrTypeAPI, Message: err.Error()}
}

func snapshot(j *job) *Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	b := j.batch
	return &b
}
