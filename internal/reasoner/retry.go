package reasoner

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

// RetryPolicy is the single retry policy injected into callers of reasoning
// services, parameterized by error kind. A zero retry count means the kind
// fails immediately; malformed output is never retried.
type RetryPolicy struct {
	// Retries maps an error kind to the number of extra attempts allowed.
	Retries map[core.ErrorKind]int

	// TimeoutFactor scales the per-attempt timeout on each retry, so a
	// flaky service is retried with a shorter leash.
	TimeoutFactor float64
}

// DefaultRetryPolicy retries only unavailable services, once, with the
// timeout halved.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries: map[core.ErrorKind]int{
			core.ErrKindUnavailable: 1,
		},
		TimeoutFactor: 0.5,
	}
}

// Invoke runs one reasoning call under the policy. Each attempt is bounded
// by its own timeout; retries shorten it by TimeoutFactor.
func (p RetryPolicy) Invoke(ctx context.Context, r Reasoner, req *Request, timeout time.Duration) (*Response, error) {
	attempt := 0
	remaining := map[core.ErrorKind]int{}
	for kind, n := range p.Retries {
		remaining[kind] = n
	}

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := r.Invoke(attemptCtx, req)
		cancel()

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// The caller's context ended; do not mask cancellation.
			return nil, err
		}

		kind := KindOf(err)
		if remaining[kind] <= 0 {
			return nil, err
		}
		remaining[kind]--
		attempt++

		if p.TimeoutFactor > 0 {
			timeout = time.Duration(float64(timeout) * p.TimeoutFactor)
		}
		slog.Warn("Retrying reasoning call",
			"reasoner", r.Name(),
			"role", req.Role,
			"kind", kind,
			"attempt", attempt+1,
			"timeout", timeout,
		)
	}
}
