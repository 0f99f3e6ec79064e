// Package pool executes a stage of independent perspective reasoning calls
// concurrently, with per-worker timeouts and partial-failure tolerance.
package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/contextview"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/reasoner"
)

// Worker binds one role to the reasoner that serves it.
type Worker struct {
	Role         core.Role
	Reasoner     reasoner.Reasoner
	SystemPrompt string
}

// StageRequest describes one synchronized batch of perspective calls.
type StageRequest struct {
	// Name labels the stage in errors and logs.
	Name string

	// Workers run concurrently, one goroutine each.
	Workers []Worker

	// Auxiliary is shared non-role input (the proposal under deliberation).
	Auxiliary string

	// History holds prior-round sections appended to each worker's view,
	// bounded by that role's token budget.
	History []core.Section

	// Round is recorded on each result.
	Round int

	// Timeout bounds each worker invocation.
	Timeout time.Duration

	// QuorumMinimum is the required number of successful results.
	// Zero means majority: N/2 + 1.
	QuorumMinimum int
}

// Pool runs perspective stages against a shared view builder.
type Pool struct {
	builder *contextview.Builder
	retry   reasoner.RetryPolicy
}

// New creates a worker pool.
func New(builder *contextview.Builder, retry reasoner.RetryPolicy) *Pool {
	return &Pool{builder: builder, retry: retry}
}

// DefaultQuorum returns the majority quorum for n workers.
func DefaultQuorum(n int) int {
	return n/2 + 1
}

// RunStage builds each worker's context view and invokes its reasoner
// concurrently. A failed worker is absorbed into a failed result; the stage
// itself fails only when fewer than the quorum of workers succeeded, or when
// the caller's context ends. Results are returned in worker order regardless
// of completion order, so transcripts are reproducible. Partial results are
// returned alongside a stage error for the caller to record.
func (p *Pool) RunStage(ctx context.Context, req StageRequest) ([]core.PerspectiveResult, error) {
	n := len(req.Workers)
	results := make([]core.PerspectiveResult, n)

	done := make(chan int, n)
	for i, w := range req.Workers {
		go func(i int, w Worker) {
			results[i] = p.runWorker(ctx, req, w)
			done <- i
		}(i, w)
	}

	// Join barrier: every worker reports exactly once.
	for range req.Workers {
		<-done
	}

	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		}
	}

	if err := ctx.Err(); err != nil {
		slog.Debug("Stage cancelled", "stage", req.Name, "round", req.Round)
		return results, err
	}

	required := req.QuorumMinimum
	if required <= 0 {
		required = DefaultQuorum(n)
	}
	if succeeded < required {
		return results, &core.QuorumNotMetError{
			Stage:     req.Name,
			Succeeded: succeeded,
			Required:  required,
		}
	}

	slog.Debug("Stage completed",
		"stage", req.Name,
		"round", req.Round,
		"succeeded", succeeded,
		"workers", n,
	)
	return results, nil
}

// runWorker executes a single perspective call. Errors never propagate;
// they are recorded on the result.
func (p *Pool) runWorker(ctx context.Context, req StageRequest, w Worker) core.PerspectiveResult {
	result := core.PerspectiveResult{
		ID:        core.GenerateID(),
		Role:      w.Role,
		Round:     req.Round,
		CreatedAt: time.Now(),
	}

	view, err := p.builder.BuildView(w.Role)
	if err != nil {
		result.ErrKind = core.ErrKindUnavailable
		return result
	}
	if len(req.History) > 0 {
		view = contextview.AppendHistory(view, req.History, p.builder.Budget(w.Role))
	}

	resp, err := p.retry.Invoke(ctx, w.Reasoner, &reasoner.Request{
		Role:         w.Role,
		SystemPrompt: w.SystemPrompt,
		View:         view,
		Auxiliary:    req.Auxiliary,
	}, req.Timeout)
	if err != nil {
		result.ErrKind = reasoner.KindOf(err)
		slog.Warn("Perspective worker failed",
			"stage", req.Name,
			"role", w.Role,
			"round", req.Round,
			"kind", result.ErrKind,
			"error", err,
		)
		return result
	}

	result.Content = resp.Content
	result.Succeeded = true
	return result
}
