// Package reasoner contains reasoning-service abstractions and adapters.
//
// A Reasoner wraps one way of producing perspective content (a CLI-backed
// model, a scripted mock) behind a synchronous request/response contract.
// Callers apply their own timeout independent of the adapter's behavior.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

// Request is one reasoning invocation for a role.
type Request struct {
	// Role is the perspective this invocation reasons as.
	Role core.Role

	// SystemPrompt frames the role's reasoning approach.
	SystemPrompt string

	// View is the role-specific projection of the shared analysis store.
	View *core.ContextView

	// Auxiliary is shared non-role input, e.g. the proposal under
	// deliberation.
	Auxiliary string
}

// Response is a reasoner's reply.
type Response struct {
	Content string        `json:"content"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Reasoner is the interface all reasoning-service adapters implement.
type Reasoner interface {
	// Name returns the adapter's identifier (e.g., "claude", "mock").
	Name() string

	// Available reports whether the adapter can serve requests.
	Available() bool

	// Invoke sends a request and returns the generated content.
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// HealthChecker is an optional capability a reasoner either implements or
// does not; absence is a construction-time fact of the adapter type.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus is the outcome of a reasoner health check.
type HealthStatus struct {
	Available    bool          `json:"available"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Error represents a failed reasoning invocation.
type Error struct {
	Reasoner string
	Kind     core.ErrorKind
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s reasoner error (%s): %s: %v", e.Reasoner, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s reasoner error (%s): %s", e.Reasoner, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies an invocation error into an ErrorKind.
func KindOf(err error) core.ErrorKind {
	if err == nil {
		return core.ErrKindNone
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return core.ErrKindCancelled
	}
	return core.ErrKindUnavailable
}

// RenderPrompt flattens a request into the prompt text sent to an adapter.
func RenderPrompt(req *Request) string {
	var sb strings.Builder

	if req.SystemPrompt != "" {
		sb.WriteString(req.SystemPrompt)
		sb.WriteString("\n\n")
	}

	if req.Auxiliary != "" {
		fmt.Fprintf(&sb, "Proposal under deliberation: %s\n\n", req.Auxiliary)
	}

	if req.View != nil {
		sb.WriteString("Context:\n")
		for _, section := range req.View.Sections {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", section.Label, section.Text)
		}
		if req.View.Partial {
			sb.WriteString("\n(Note: some information domains were unavailable.)\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("State your position, the evidence behind it, and your assumptions.")
	return sb.String()
}
