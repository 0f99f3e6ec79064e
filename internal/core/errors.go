package core

import "fmt"

// DuplicateDomainError is returned when a report is published twice for the
// same domain within a session. Reports are write-once.
type DuplicateDomainError struct {
	Domain Domain
}

func (e *DuplicateDomainError) Error() string {
	return fmt.Sprintf("report already published for domain %q", e.Domain)
}

// DomainNotReadyError is returned when a report for a domain has not been
// published yet. Callers treat this as recoverable and proceed with a
// partial view.
type DomainNotReadyError struct {
	Domain Domain
}

func (e *DomainNotReadyError) Error() string {
	return fmt.Sprintf("no report published for domain %q", e.Domain)
}

// QuorumNotMetError is returned when too few workers in a stage succeeded
// for the stage to be usable.
type QuorumNotMetError struct {
	Stage     string
	Succeeded int
	Required  int
}

func (e *QuorumNotMetError) Error() string {
	return fmt.Sprintf("stage %s: quorum not met: %d of %d required workers succeeded", e.Stage, e.Succeeded, e.Required)
}

// SynthesisAmbiguousError is returned when no decision can be synthesized:
// agreement classified as none and the final round had no usable quorum.
type SynthesisAmbiguousError struct {
	AgreementScore float64
	FinalSucceeded int
}

func (e *SynthesisAmbiguousError) Error() string {
	return fmt.Sprintf("synthesis ambiguous: agreement score %.2f with %d usable results in final round", e.AgreementScore, e.FinalSucceeded)
}

// ReasoningError wraps a failed reasoning-service invocation with its kind.
type ReasoningError struct {
	Role Role
	Kind ErrorKind
	Err  error
}

func (e *ReasoningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reasoning failed for role %s (%s): %v", e.Role, e.Kind, e.Err)
	}
	return fmt.Sprintf("reasoning failed for role %s (%s)", e.Role, e.Kind)
}

// Unwrap returns the underlying error.
func (e *ReasoningError) Unwrap() error {
	return e.Err
}

// PipelineAbortedError is surfaced to the decision consumer when a session
// fails before producing a decision.
type PipelineAbortedError struct {
	Stage string
	Err   error
}

func (e *PipelineAbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline aborted at stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("pipeline aborted at stage %s", e.Stage)
}

// Unwrap returns the underlying error.
func (e *PipelineAbortedError) Unwrap() error {
	return e.Err
}
