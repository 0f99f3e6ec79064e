package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/collector"
	"github.com/arbiterhq/arbiter/internal/consensus"
	"github.com/arbiterhq/arbiter/internal/contextview"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/debate"
	"github.com/arbiterhq/arbiter/internal/perspective"
	"github.com/arbiterhq/arbiter/internal/pool"
	"github.com/arbiterhq/arbiter/internal/reasoner"
	"github.com/arbiterhq/arbiter/internal/store"
)

// recordingConsumer counts terminal notifications.
type recordingConsumer struct {
	decisions []*core.Decision
	aborts    []*core.PipelineAbortedError
}

func (r *recordingConsumer) OnDecision(_ *core.Session, d *core.Decision) {
	r.decisions = append(r.decisions, d)
}

func (r *recordingConsumer) OnAbort(_ *core.Session, err *core.PipelineAbortedError) {
	r.aborts = append(r.aborts, err)
}

func (r *recordingConsumer) assertExactlyOne(t *testing.T, wantDecision bool) {
	t.Helper()
	if wantDecision {
		if len(r.decisions) != 1 || len(r.aborts) != 0 {
			t.Fatalf("expected exactly one decision: %d decisions, %d aborts",
				len(r.decisions), len(r.aborts))
		}
		return
	}
	if len(r.decisions) != 0 || len(r.aborts) != 1 {
		t.Fatalf("expected exactly one abort: %d decisions, %d aborts",
			len(r.decisions), len(r.aborts))
	}
}

func testWorkers(mock *reasoner.MockReasoner) []pool.Worker {
	roles := []core.Role{"advocate", "critic", "analyst"}
	workers := make([]pool.Worker, 0, len(roles))
	for _, role := range roles {
		workers = append(workers, pool.Worker{Role: role, Reasoner: mock})
	}
	return workers
}

func testOptions(mock *reasoner.MockReasoner) Options {
	s := store.New()
	builder := contextview.NewBuilder(s, contextview.Options{Strategy: contextview.StrategyFull})
	return Options{
		Collectors: []collector.Collector{
			collector.NewStatic(core.DomainMarket, "Price closed 4% above the 50-day average."),
		},
		Store:         s,
		Pool:          pool.New(builder, reasoner.DefaultRetryPolicy()),
		Detector:      consensus.NewDetector(consensus.SignalWeights{}),
		Synthesizer:   consensus.NewSynthesizer(consensus.QualityWeights{}, nil, consensus.RiskParams{}, perspective.StanceOf),
		DebateWorkers: testWorkers(mock),
		Debate:        debate.Config{MaxRounds: 3},
		WorkerTimeout: time.Second,
	}
}

// All perspectives agree in the first round: one round, high confidence.
func TestRunUnanimousFirstRound(t *testing.T) {
	shared := "Revenue grew 14% with margins up 2 points. However the valuation is already rich. Assumption: rates hold."
	mock := reasoner.NewMock("mock").
		Script("advocate", reasoner.MockReply{Content: shared}).
		Script("critic", reasoner.MockReply{Content: shared}).
		Script("analyst", reasoner.MockReply{Content: shared})

	consumer := &recordingConsumer{}
	session, err := New(testOptions(mock), consumer).Run(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	consumer.assertExactlyOne(t, true)
	if session.Status != core.StatusCompleted {
		t.Errorf("wrong status: %s", session.Status)
	}
	if got := len(session.Transcript.Rounds); got != 1 {
		t.Errorf("unanimous debate should end after 1 round, got %d", got)
	}
	if session.Decision.Confidence <= 0.8 {
		t.Errorf("confidence too low for unanimous debate: %.2f", session.Decision.Confidence)
	}
	if session.Assessment == nil || session.Assessment.Type != core.ConsensusStrong {
		t.Errorf("wrong assessment: %+v", session.Assessment)
	}
	if session.CompletedAt == nil {
		t.Error("completed session missing completion time")
	}
}

// One worker times out every round while the others persistently disagree:
// the debate runs to the round cap and the decision carries low confidence.
func TestRunPersistentDisagreementWithFailures(t *testing.T) {
	mock := reasoner.NewMock("mock").
		Script("advocate",
			reasoner.MockReply{Content: "Momentum breakout targets twelve percent upside."},
			reasoner.MockReply{Content: "Channel checks confirm robust holiday demand."},
			reasoner.MockReply{Content: "Institutional accumulation underpins price support."},
		).
		Script("critic",
			reasoner.MockReply{Content: "Litigation overhang erodes shareholder value badly."},
			reasoner.MockReply{Content: "Margin compression accelerates under input costs."},
			reasoner.MockReply{Content: "Insider departures signal governance deterioration."},
		).
		Script("analyst", reasoner.MockReply{Kind: core.ErrKindTimeout})

	consumer := &recordingConsumer{}
	session, err := New(testOptions(mock), consumer).Run(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	consumer.assertExactlyOne(t, true)
	if got := len(session.Transcript.Rounds); got != 3 {
		t.Fatalf("expected 3 rounds, got %d", got)
	}
	for i, round := range session.Transcript.Rounds {
		if len(round.Results) != 3 {
			t.Errorf("round %d missing results: %d", i, len(round.Results))
		}
		if got := len(round.Succeeded()); got != 2 {
			t.Errorf("round %d expected 2 successes, got %d", i, got)
		}
	}
	if session.Decision.Confidence >= 0.6 {
		t.Errorf("confidence too high for contested debate: %.2f", session.Decision.Confidence)
	}
}

// Only one of three workers succeeds, below quorum. The stage retry also
// fails, so the pipeline aborts without a decision.
func TestRunQuorumNeverMet(t *testing.T) {
	mock := reasoner.NewMock("mock").
		Script("advocate", reasoner.MockReply{Content: "Only voice left standing argues upside."}).
		Script("critic", reasoner.MockReply{Kind: core.ErrKindTimeout}).
		Script("analyst", reasoner.MockReply{Kind: core.ErrKindTimeout})

	consumer := &recordingConsumer{}
	session, err := New(testOptions(mock), consumer).Run(context.Background(), "AAPL")
	if err == nil {
		t.Fatal("expected pipeline abort")
	}

	consumer.assertExactlyOne(t, false)
	var aborted *core.PipelineAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected PipelineAbortedError, got %v", err)
	}
	var quorum *core.QuorumNotMetError
	if !errors.As(err, &quorum) {
		t.Fatalf("abort should wrap the quorum error, got %v", err)
	}
	if session.Status != core.StatusFailed {
		t.Errorf("wrong status: %s", session.Status)
	}
	if session.Decision != nil {
		t.Error("aborted session must not carry a decision")
	}
}

func TestRunCollectorFailure(t *testing.T) {
	missing := collector.NewFile(core.DomainNews, filepath.Join(t.TempDir(), "news.md"))
	shared := "Steady 5% growth continues. However momentum is slowing."
	mock := reasoner.NewMock("mock").
		Script("advocate", reasoner.MockReply{Content: shared}).
		Script("critic", reasoner.MockReply{Content: shared}).
		Script("analyst", reasoner.MockReply{Content: shared})

	t.Run("RequiredDomainAborts", func(t *testing.T) {
		opts := testOptions(mock)
		opts.Collectors = append(opts.Collectors, missing)

		consumer := &recordingConsumer{}
		session, err := New(opts, consumer).Run(context.Background(), "AAPL")
		if err == nil {
			t.Fatal("expected abort on required-domain failure")
		}
		consumer.assertExactlyOne(t, false)
		var aborted *core.PipelineAbortedError
		if !errors.As(err, &aborted) || aborted.Stage != "collect" {
			t.Errorf("wrong abort: %v", err)
		}
		if session.Status != core.StatusFailed {
			t.Errorf("wrong status: %s", session.Status)
		}
	})

	t.Run("OptionalDomainProceeds", func(t *testing.T) {
		opts := testOptions(mock)
		opts.Collectors = append(opts.Collectors, missing)
		opts.OptionalDomains = map[core.Domain]bool{core.DomainNews: true}

		consumer := &recordingConsumer{}
		session, err := New(opts, consumer).Run(context.Background(), "AAPL")
		if err != nil {
			t.Fatalf("optional-domain failure should not abort: %v", err)
		}
		consumer.assertExactlyOne(t, true)
		if session.Status != core.StatusCompleted {
			t.Errorf("wrong status: %s", session.Status)
		}
	})
}

func TestRunAnalysisSeedsDebate(t *testing.T) {
	shared := "Identical positions converge immediately this round."
	mock := reasoner.NewMock("mock").
		Script("researcher", reasoner.MockReply{Content: "Fundamentals point to 9% upside over twelve months."}).
		Script("advocate", reasoner.MockReply{Content: shared}).
		Script("critic", reasoner.MockReply{Content: shared}).
		Script("analyst", reasoner.MockReply{Content: shared})

	opts := testOptions(mock)
	opts.AnalystWorkers = []pool.Worker{{Role: "researcher", Reasoner: mock}}

	consumer := &recordingConsumer{}
	session, err := New(opts, consumer).Run(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(session.Analysis) != 1 {
		t.Fatalf("expected 1 analysis result, got %d", len(session.Analysis))
	}
	if !session.Analysis[0].Succeeded || session.Analysis[0].Role != "researcher" {
		t.Errorf("unexpected analysis result: %+v", session.Analysis[0])
	}
	consumer.assertExactlyOne(t, true)
}

// Debate rounds inherit the executor's worker timeout when the debate config
// leaves it unset; a zero per-attempt timeout would expire instantly and fail
// every worker.
func TestRunDebateInheritsWorkerTimeout(t *testing.T) {
	shared := "Both positions land on the same 8% upside case."
	mock := reasoner.NewMock("mock").WithDelay(30 * time.Millisecond).
		Script("advocate", reasoner.MockReply{Content: shared}).
		Script("critic", reasoner.MockReply{Content: shared}).
		Script("analyst", reasoner.MockReply{Content: shared})

	opts := testOptions(mock)
	if opts.Debate.WorkerTimeout != 0 {
		t.Fatal("fixture should leave the debate timeout unset")
	}

	consumer := &recordingConsumer{}
	session, err := New(opts, consumer).Run(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	consumer.assertExactlyOne(t, true)
	for _, r := range session.Transcript.Rounds[0].Results {
		if !r.Succeeded {
			t.Errorf("worker %s failed: %s", r.Role, r.ErrKind)
		}
	}
}

// countingRunner fails with a quorum error a fixed number of times.
type countingRunner struct {
	failures int
	calls    []pool.StageRequest
}

func (c *countingRunner) RunStage(_ context.Context, req pool.StageRequest) ([]core.PerspectiveResult, error) {
	c.calls = append(c.calls, req)
	if len(c.calls) <= c.failures {
		return nil, &core.QuorumNotMetError{Stage: req.Name, Succeeded: 1, Required: 2}
	}
	return []core.PerspectiveResult{{Role: "advocate", Succeeded: true}}, nil
}

func TestRetryRunner(t *testing.T) {
	t.Run("RetriesOnceWithRelaxedTimeout", func(t *testing.T) {
		inner := &countingRunner{failures: 1}
		r := &retryRunner{inner: inner, factor: 2.0}

		results, err := r.RunStage(context.Background(), pool.StageRequest{
			Name: "analysis", Timeout: time.Second,
		})
		if err != nil {
			t.Fatalf("retry should have recovered: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("missing results after retry")
		}
		if len(inner.calls) != 2 {
			t.Fatalf("expected 2 stage calls, got %d", len(inner.calls))
		}
		if inner.calls[1].Timeout != 2*time.Second {
			t.Errorf("retry timeout not relaxed: %v", inner.calls[1].Timeout)
		}
	})

	t.Run("GivesUpAfterSecondFailure", func(t *testing.T) {
		inner := &countingRunner{failures: 2}
		r := &retryRunner{inner: inner, factor: 2.0}

		_, err := r.RunStage(context.Background(), pool.StageRequest{Name: "analysis", Timeout: time.Second})
		var quorum *core.QuorumNotMetError
		if !errors.As(err, &quorum) {
			t.Fatalf("expected QuorumNotMetError, got %v", err)
		}
		if len(inner.calls) != 2 {
			t.Errorf("expected exactly 2 stage calls, got %d", len(inner.calls))
		}
	})

	t.Run("OtherErrorsPassThrough", func(t *testing.T) {
		r := &retryRunner{
			inner:  failingRunner{err: context.DeadlineExceeded},
			factor: 2.0,
		}
		if _, err := r.RunStage(context.Background(), pool.StageRequest{}); err != context.DeadlineExceeded {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

type failingRunner struct{ err error }

func (f failingRunner) RunStage(context.Context, pool.StageRequest) ([]core.PerspectiveResult, error) {
	return nil, f.err
}

func TestRunCancellation(t *testing.T) {
	mock := reasoner.NewMock("mock").WithDelay(200 * time.Millisecond)
	opts := testOptions(mock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	consumer := &recordingConsumer{}
	session, err := New(opts, consumer).Run(ctx, "AAPL")
	if err == nil {
		t.Fatal("expected abort on cancellation")
	}
	consumer.assertExactlyOne(t, false)
	if session.Status != core.StatusFailed {
		t.Errorf("wrong status: %s", session.Status)
	}
}
