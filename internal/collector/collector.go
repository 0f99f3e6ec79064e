// Package collector produces the raw domain reports a deliberation
// session starts from.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

// Collector produces the report for exactly one domain. Collectors run
// concurrently during pipeline startup; implementations must be safe to
// call from their own goroutine.
type Collector interface {
	Domain() core.Domain
	Collect(ctx context.Context) (*core.DomainReport, error)
}

// Static serves a fixed report. Used for tests and for inlining report
// content on the command line.
type Static struct {
	domain  core.Domain
	content string
}

// NewStatic creates a collector that always returns the given content.
func NewStatic(domain core.Domain, content string) *Static {
	return &Static{domain: domain, content: content}
}

func (s *Static) Domain() core.Domain { return s.domain }

func (s *Static) Collect(_ context.Context) (*core.DomainReport, error) {
	if strings.TrimSpace(s.content) == "" {
		return nil, fmt.Errorf("empty report for domain %s", s.domain)
	}
	return &core.DomainReport{
		Domain:     s.domain,
		Content:    s.content,
		ProducedAt: time.Now(),
	}, nil
}

// File reads a domain report from a file on disk.
type File struct {
	domain core.Domain
	path   string
}

// NewFile creates a collector backed by the file at path.
func NewFile(domain core.Domain, path string) *File {
	return &File{domain: domain, path: path}
}

func (f *File) Domain() core.Domain { return f.domain }

func (f *File) Collect(ctx context.Context) (*core.DomainReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s report: %w", f.domain, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty report file for domain %s: %s", f.domain, f.path)
	}
	return &core.DomainReport{
		Domain:     f.domain,
		Content:    content,
		ProducedAt: time.Now(),
	}, nil
}

// reportExtensions are the file extensions FromDir probes, in order.
var reportExtensions = []string{".md", ".txt"}

// FromDir builds one file collector per domain for which a report file
// exists under dir (e.g. market.md, news.txt). Domains without a file are
// simply absent from the result; the pipeline decides whether a missing
// domain is acceptable.
func FromDir(dir string, domains []core.Domain) ([]Collector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("report directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("report path is not a directory: %s", dir)
	}

	var collectors []Collector
	for _, domain := range domains {
		for _, ext := range reportExtensions {
			path := filepath.Join(dir, string(domain)+ext)
			if _, err := os.Stat(path); err == nil {
				collectors = append(collectors, NewFile(domain, path))
				break
			}
		}
	}
	return collectors, nil
}
