package reasoner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

// MockReasoner generates scripted responses for tests and dry runs. Scripts
// are keyed by role; each invocation for a role consumes the next entry,
// repeating the last one when the script runs out.
type MockReasoner struct {
	name  string
	delay time.Duration

	mu      sync.Mutex
	scripts map[core.Role][]MockReply
	calls   map[core.Role]int
}

// MockReply is one scripted response or failure.
type MockReply struct {
	Content string
	Kind    core.ErrorKind // non-empty means the call fails with this kind
}

// NewMock creates a mock reasoner with no scripts; unscripted roles get a
// generic canned response.
func NewMock(name string) *MockReasoner {
	if name == "" {
		name = "mock"
	}
	return &MockReasoner{
		name:    name,
		scripts: make(map[core.Role][]MockReply),
		calls:   make(map[core.Role]int),
	}
}

// Script sets the reply sequence for a role.
func (m *MockReasoner) Script(role core.Role, replies ...MockReply) *MockReasoner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[role] = replies
	return m
}

// WithDelay makes every invocation take at least d.
func (m *MockReasoner) WithDelay(d time.Duration) *MockReasoner {
	m.delay = d
	return m
}

// Name returns the adapter identifier.
func (m *MockReasoner) Name() string { return m.name }

// Available always reports true.
func (m *MockReasoner) Available() bool { return true }

// Invoke returns the next scripted reply for the request's role.
func (m *MockReasoner) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &Error{
				Reasoner: m.name,
				Kind:     KindOf(ctx.Err()),
				Message:  "cancelled while simulating work",
				Err:      ctx.Err(),
			}
		case <-time.After(m.delay):
		}
	} else if ctx.Err() != nil {
		return nil, &Error{
			Reasoner: m.name,
			Kind:     KindOf(ctx.Err()),
			Message:  "context ended",
			Err:      ctx.Err(),
		}
	}

	m.mu.Lock()
	script := m.scripts[req.Role]
	idx := m.calls[req.Role]
	m.calls[req.Role]++
	m.mu.Unlock()

	if len(script) == 0 {
		return &Response{
			Content: fmt.Sprintf("Simulated %s position on: %s", req.Role, truncate(req.Auxiliary, 60)),
		}, nil
	}

	if idx >= len(script) {
		idx = len(script) - 1
	}
	reply := script[idx]
	if reply.Kind != core.ErrKindNone {
		return nil, &Error{
			Reasoner: m.name,
			Kind:     reply.Kind,
			Message:  "scripted failure",
		}
	}
	return &Response{Content: reply.Content}, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
