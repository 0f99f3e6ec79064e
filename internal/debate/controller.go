// Package debate sequences bounded rounds of adversarial perspective calls
// and decides when deliberation has converged.
package debate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/consensus"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/pool"
)

// State is the controller's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateInRound    State = "in_round"
	StateEvaluating State = "evaluating"
	StateConcluded  State = "concluded"
)

// StageRunner executes one synchronized batch of perspective calls.
// *pool.Pool satisfies it directly; the pipeline wraps it with its stage
// retry policy.
type StageRunner interface {
	RunStage(ctx context.Context, req pool.StageRequest) ([]core.PerspectiveResult, error)
}

// Config bounds a debate.
type Config struct {
	// MaxRounds caps the number of executed rounds. Default 3.
	MaxRounds int

	// ConsensusThreshold is the agreement score at or above which a
	// strong or operational consensus ends the debate early. Default 0.6.
	ConsensusThreshold float64

	// QuorumMinimum is passed through to each stage. Zero means majority.
	QuorumMinimum int

	// WorkerTimeout bounds each perspective invocation.
	WorkerTimeout time.Duration
}

// DefaultMaxRounds bounds debates that never converge.
const DefaultMaxRounds = 3

// DefaultConsensusThreshold ends a debate once agreement is operational.
const DefaultConsensusThreshold = 0.6

// Controller owns the transcript for the duration of a debate. All state
// changes go through its transition function; nothing else mutates the
// transcript while the debate runs.
type Controller struct {
	runner   StageRunner
	detector *consensus.Detector
	cfg      Config

	state      State
	roundIndex int
	transcript core.Transcript
}

// NewController creates an idle controller.
func NewController(runner StageRunner, detector *consensus.Detector, cfg Config) *Controller {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = DefaultConsensusThreshold
	}
	return &Controller{
		runner:   runner,
		detector: detector,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	return c.state
}

// Transcript returns the accumulated transcript. After Run returns it is
// safe to read; the controller no longer mutates it.
func (c *Controller) Transcript() *core.Transcript {
	return &c.transcript
}

// Run drives the debate to conclusion. Each round's workers receive the
// seed sections (pre-debate analysis output) followed by the prior rounds'
// successful results as debate-history sections. The debate concludes when
// agreement reaches the threshold with a strong or operational consensus,
// or when the round cap is hit. A stage error (quorum never met,
// cancellation) ends the debate with that error.
func (c *Controller) Run(ctx context.Context, workers []pool.Worker, auxiliary string, seed []core.Section) (core.ConsensusAssessment, error) {
	if c.state != StateIdle {
		return core.ConsensusAssessment{}, fmt.Errorf("debate already ran (state %s)", c.state)
	}

	c.transition(StateInRound)
	var assessment core.ConsensusAssessment

	for {
		results, err := c.runner.RunStage(ctx, pool.StageRequest{
			Name:          fmt.Sprintf("debate-round-%d", c.roundIndex),
			Workers:       workers,
			Auxiliary:     auxiliary,
			History:       c.historySections(seed),
			Round:         c.roundIndex,
			Timeout:       c.cfg.WorkerTimeout,
			QuorumMinimum: c.cfg.QuorumMinimum,
		})
		if err != nil {
			c.transition(StateConcluded)
			return assessment, err
		}

		c.transition(StateEvaluating)
		c.transcript.Append(core.DebateRound{Index: c.roundIndex, Results: results})

		assessment = c.detector.Evaluate(&c.transcript)
		slog.Debug("Round evaluated",
			"round", c.roundIndex,
			"consensus", assessment.Type,
			"agreement", assessment.AgreementScore,
		)

		if c.converged(assessment) {
			slog.Info("Debate concluded on consensus",
				"rounds", len(c.transcript.Rounds),
				"consensus", assessment.Type,
				"agreement", assessment.AgreementScore,
			)
			c.transition(StateConcluded)
			return assessment, nil
		}
		if c.roundIndex+1 >= c.cfg.MaxRounds {
			slog.Info("Debate concluded on round cap",
				"rounds", len(c.transcript.Rounds),
				"consensus", assessment.Type,
			)
			c.transition(StateConcluded)
			return assessment, nil
		}

		c.roundIndex++
		c.transition(StateInRound)
	}
}

// converged reports whether the assessment ends the debate early.
func (c *Controller) converged(a core.ConsensusAssessment) bool {
	if a.Type != core.ConsensusStrong && a.Type != core.ConsensusOperational {
		return false
	}
	return a.AgreementScore >= c.cfg.ConsensusThreshold
}

// historySections flattens the seed and prior rounds into labeled sections.
// Budget enforcement happens per role inside the worker pool.
func (c *Controller) historySections(seed []core.Section) []core.Section {
	sections := append([]core.Section(nil), seed...)
	for _, round := range c.transcript.Rounds {
		for _, r := range round.Results {
			if !r.Succeeded {
				continue
			}
			sections = append(sections, core.Section{
				Label: fmt.Sprintf("round %d: %s", round.Index, r.Role),
				Text:  r.Content,
			})
		}
	}
	return sections
}

func (c *Controller) transition(next State) {
	slog.Debug("Debate state transition", "from", c.state, "to", next, "round", c.roundIndex)
	c.state = next
}
