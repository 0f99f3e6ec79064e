// Package pipeline drives a deliberation session end to end: collect
// reports, run the analysis stage, debate, synthesize, deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/internal/collector"
	"github.com/arbiterhq/arbiter/internal/consensus"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/debate"
	"github.com/arbiterhq/arbiter/internal/pool"
	"github.com/arbiterhq/arbiter/internal/store"
)

// Consumer receives the session's terminal outcome. For any session exactly
// one of the two methods is called, exactly once.
type Consumer interface {
	OnDecision(session *core.Session, decision *core.Decision)
	OnAbort(session *core.Session, err *core.PipelineAbortedError)
}

// ConsumerFuncs adapts plain functions to the Consumer interface. Nil
// functions are simply skipped.
type ConsumerFuncs struct {
	Decision func(*core.Session, *core.Decision)
	Abort    func(*core.Session, *core.PipelineAbortedError)
}

func (c ConsumerFuncs) OnDecision(s *core.Session, d *core.Decision) {
	if c.Decision != nil {
		c.Decision(s, d)
	}
}

func (c ConsumerFuncs) OnAbort(s *core.Session, err *core.PipelineAbortedError) {
	if c.Abort != nil {
		c.Abort(s, err)
	}
}

// DefaultRelaxedFactor widens a stage timeout for its single retry.
const DefaultRelaxedFactor = 2.0

// Options wires a session's components together.
type Options struct {
	Collectors      []collector.Collector
	OptionalDomains map[core.Domain]bool

	Store       *store.AnalysisStore
	Pool        *pool.Pool
	Detector    *consensus.Detector
	Synthesizer *consensus.Synthesizer

	// AnalystWorkers run once before the debate; their output seeds the
	// debate history. May be empty.
	AnalystWorkers []pool.Worker

	// DebateWorkers argue the rounds.
	DebateWorkers []pool.Worker

	Debate        debate.Config
	WorkerTimeout time.Duration

	// RelaxedFactor scales the timeout for the one stage retry after a
	// quorum failure. Zero means DefaultRelaxedFactor.
	RelaxedFactor float64

	// AbortOnAmbiguous aborts the session on SynthesisAmbiguousError
	// instead of emitting a no-action decision.
	AbortOnAmbiguous bool
}

// Executor runs deliberation sessions. Stages execute sequentially; only
// the workers inside a stage run concurrently.
type Executor struct {
	opts     Options
	consumer Consumer
}

// New creates an executor. A nil consumer is replaced with a no-op one.
func New(opts Options, consumer Consumer) *Executor {
	if consumer == nil {
		consumer = ConsumerFuncs{}
	}
	if opts.RelaxedFactor <= 0 {
		opts.RelaxedFactor = DefaultRelaxedFactor
	}
	if opts.Debate.WorkerTimeout == 0 {
		opts.Debate.WorkerTimeout = opts.WorkerTimeout
	}
	return &Executor{opts: opts, consumer: consumer}
}

// Run executes one session over the proposal. It always returns the session
// record; the error is non-nil exactly when the consumer was notified via
// OnAbort.
func (e *Executor) Run(ctx context.Context, proposal string) (*core.Session, error) {
	session := &core.Session{
		ID:        core.GenerateID(),
		Proposal:  proposal,
		Status:    core.StatusInProgress,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, w := range e.opts.DebateWorkers {
		session.Roles = append(session.Roles, w.Role)
	}
	slog.Info("Session started", "session", session.ID, "proposal", proposal, "roles", len(session.Roles))

	if err := e.collect(ctx); err != nil {
		return session, e.abort(session, "collect", err)
	}

	seed, analysis, err := e.runAnalysis(ctx, proposal)
	if err != nil {
		return session, e.abort(session, "analysis", err)
	}
	session.Analysis = analysis

	runner := &retryRunner{inner: e.opts.Pool, factor: e.opts.RelaxedFactor}
	controller := debate.NewController(runner, e.opts.Detector, e.opts.Debate)
	assessment, err := controller.Run(ctx, e.opts.DebateWorkers, proposal, seed)
	session.Transcript = *controller.Transcript()
	if err != nil {
		return session, e.abort(session, "debate", err)
	}
	session.Assessment = &assessment

	quorum := e.opts.Debate.QuorumMinimum
	if quorum <= 0 {
		quorum = pool.DefaultQuorum(len(e.opts.DebateWorkers))
	}
	decision, err := e.opts.Synthesizer.Synthesize(session.ID, &session.Transcript, assessment, quorum)
	if err != nil {
		var ambiguous *core.SynthesisAmbiguousError
		if !errors.As(err, &ambiguous) || e.opts.AbortOnAmbiguous {
			return session, e.abort(session, "synthesis", err)
		}
		slog.Warn("Synthesis ambiguous, emitting no-action decision",
			"session", session.ID, "agreement", ambiguous.AgreementScore)
		decision = consensus.NoActionDecision(session.ID, ambiguous.Error())
	}

	now := time.Now()
	session.Decision = decision
	session.Status = core.StatusCompleted
	session.UpdatedAt = now
	session.CompletedAt = &now

	slog.Info("Session completed",
		"session", session.ID,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"rounds", len(session.Transcript.Rounds),
	)
	e.consumer.OnDecision(session, decision)
	return session, nil
}

// collect runs every collector concurrently and publishes the reports. A
// failed collector is fatal unless its domain is marked optional.
func (e *Executor) collect(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range e.opts.Collectors {
		c := c
		g.Go(func() error {
			report, err := c.Collect(ctx)
			if err != nil {
				if e.opts.OptionalDomains[c.Domain()] && !errors.Is(err, context.Canceled) {
					slog.Warn("Optional domain collection failed, proceeding without it",
						"domain", c.Domain(), "error", err)
					return nil
				}
				return fmt.Errorf("collecting %s: %w", c.Domain(), err)
			}
			return e.opts.Store.Publish(*report)
		})
	}
	return g.Wait()
}

// runAnalysis executes the pre-debate single-round stage and converts its
// successful results into debate seed sections.
func (e *Executor) runAnalysis(ctx context.Context, proposal string) ([]core.Section, []core.PerspectiveResult, error) {
	if len(e.opts.AnalystWorkers) == 0 {
		return nil, nil, nil
	}

	runner := &retryRunner{inner: e.opts.Pool, factor: e.opts.RelaxedFactor}
	results, err := runner.RunStage(ctx, pool.StageRequest{
		Name:      "analysis",
		Workers:   e.opts.AnalystWorkers,
		Auxiliary: proposal,
		Timeout:   e.opts.WorkerTimeout,
	})
	if err != nil {
		return nil, results, err
	}

	var seed []core.Section
	for _, r := range results {
		if !r.Succeeded {
			continue
		}
		seed = append(seed, core.Section{
			Label: fmt.Sprintf("analysis: %s", r.Role),
			Text:  r.Content,
		})
	}
	return seed, results, nil
}

// abort marks the session failed and notifies the consumer exactly once.
func (e *Executor) abort(session *core.Session, stage string, err error) error {
	session.Status = core.StatusFailed
	session.UpdatedAt = time.Now()

	aborted := &core.PipelineAbortedError{Stage: stage, Err: err}
	slog.Error("Session aborted", "session", session.ID, "stage", stage, "error", err)
	e.consumer.OnAbort(session, aborted)
	return aborted
}

// retryRunner retries a stage once with a relaxed timeout when its quorum
// was not met. Any other failure passes through.
type retryRunner struct {
	inner  debate.StageRunner
	factor float64
}

func (r *retryRunner) RunStage(ctx context.Context, req pool.StageRequest) ([]core.PerspectiveResult, error) {
	results, err := r.inner.RunStage(ctx, req)
	var quorum *core.QuorumNotMetError
	if err == nil || !errors.As(err, &quorum) {
		return results, err
	}

	relaxed := req
	relaxed.Timeout = time.Duration(float64(req.Timeout) * r.factor)
	slog.Warn("Stage quorum not met, retrying with relaxed timeout",
		"stage", req.Name,
		"succeeded", quorum.Succeeded,
		"required", quorum.Required,
		"timeout", relaxed.Timeout,
	)
	return r.inner.RunStage(ctx, relaxed)
}
