package reasoner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

const (
	// MaxOutputSize caps CLI output (10MB).
	MaxOutputSize = 10 * 1024 * 1024

	// DefaultCLITimeout is the fallback per-invocation timeout.
	DefaultCLITimeout = 5 * time.Minute
)

// CLIConfig configures a CLI-backed reasoner.
type CLIConfig struct {
	// Name is the adapter identifier (e.g., "claude").
	Name string

	// Command is the executable to run.
	Command string

	// Args are passed before the prompt.
	Args []string

	// Model selects a specific model, appended as --model when set.
	Model string

	// Timeout bounds each invocation. Zero means DefaultCLITimeout.
	Timeout time.Duration
}

// CLIReasoner invokes a command-line model tool. The prompt is passed as the
// final argument and stdout is taken as the generated content.
type CLIReasoner struct {
	cfg CLIConfig
}

// NewCLI creates a CLI-backed reasoner.
func NewCLI(cfg CLIConfig) *CLIReasoner {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultCLITimeout
	}
	return &CLIReasoner{cfg: cfg}
}

// Name returns the adapter identifier.
func (r *CLIReasoner) Name() string {
	return r.cfg.Name
}

// Available checks if the executable is installed and accessible.
func (r *CLIReasoner) Available() bool {
	_, err := exec.LookPath(r.cfg.Command)
	return err == nil
}

// Invoke runs the CLI with the rendered prompt.
func (r *CLIReasoner) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if _, err := exec.LookPath(r.cfg.Command); err != nil {
		return nil, &Error{
			Reasoner: r.cfg.Name,
			Kind:     core.ErrKindUnavailable,
			Message:  fmt.Sprintf("executable %q not found in PATH", r.cfg.Command),
			Err:      err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append([]string{}, r.cfg.Args...)
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	args = append(args, RenderPrompt(req))

	slog.Debug("Invoking CLI reasoner",
		"reasoner", r.cfg.Name,
		"command", r.cfg.Command,
		"role", req.Role,
	)

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)

	var stdout, stderr bytes.Buffer
	stdoutLimited := newLimitedWriter(&stdout, MaxOutputSize)
	cmd.Stdout = stdoutLimited
	cmd.Stderr = newLimitedWriter(&stderr, MaxOutputSize)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("CLI reasoner failed",
			"reasoner", r.cfg.Name,
			"role", req.Role,
			"error", err,
			"stderr", stderr.String(),
		)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Reasoner: r.cfg.Name,
				Kind:     core.ErrKindTimeout,
				Message:  "command timed out",
				Err:      ctx.Err(),
			}
		}
		if ctx.Err() == context.Canceled {
			return nil, &Error{
				Reasoner: r.cfg.Name,
				Kind:     core.ErrKindCancelled,
				Message:  "command cancelled",
				Err:      ctx.Err(),
			}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "command failed"
		}
		return nil, &Error{
			Reasoner: r.cfg.Name,
			Kind:     core.ErrKindUnavailable,
			Message:  msg,
			Err:      err,
		}
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return nil, &Error{
			Reasoner: r.cfg.Name,
			Kind:     core.ErrKindMalformed,
			Message:  "command produced no output",
		}
	}
	if stdoutLimited.limited {
		content += "\n... (output truncated at 10MB)"
	}

	slog.Debug("CLI reasoner succeeded",
		"reasoner", r.cfg.Name,
		"role", req.Role,
		"output_len", len(content),
		"elapsed", elapsed,
	)

	return &Response{Content: content, Elapsed: elapsed}, nil
}

// HealthCheck runs a trivial prompt with a short timeout.
func (r *CLIReasoner) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.Invoke(ctx, &Request{
		Role:      "health",
		Auxiliary: "Reply with the single word OK.",
	})
	elapsed := time.Since(start)

	if err != nil {
		return HealthStatus{
			Available:    false,
			ResponseTime: elapsed,
			Error:        err.Error(),
			CheckedAt:    time.Now(),
		}
	}
	return HealthStatus{
		Available:    true,
		ResponseTime: elapsed,
		CheckedAt:    time.Now(),
	}
}

// limitedWriter wraps an io.Writer and discards bytes past a limit.
type limitedWriter struct {
	w       io.Writer
	n       int64
	limit   int64
	limited bool
}

func newLimitedWriter(w io.Writer, limit int64) *limitedWriter {
	return &limitedWriter{w: w, limit: limit}
}

func (l *limitedWriter) Write(p []byte) (n int, err error) {
	if l.n >= l.limit {
		l.limited = true
		return len(p), nil
	}

	keep := p
	if remaining := l.limit - l.n; int64(len(p)) > remaining {
		keep = p[:remaining]
		l.limited = true
	}

	written, err := l.w.Write(keep)
	l.n += int64(written)
	if err != nil {
		return written, err
	}
	// Report the full input consumed so io.Copy keeps draining the pipe
	// instead of failing with ErrShortWrite on the truncating write.
	return len(p), nil
}
