// Package store implements the shared analysis store for a deliberation
// session: one raw report per information domain, write-once, read-many.
package store

import (
	"log/slog"
	"sync"

	"github.com/arbiterhq/arbiter/internal/core"
)

// AnalysisStore holds the domain reports for one session. Publishing is
// write-once per domain; published reports are immutable and may be read
// concurrently without further locking.
type AnalysisStore struct {
	mu      sync.RWMutex
	reports map[core.Domain]*core.DomainReport
	version int
}

// New creates an empty analysis store.
func New() *AnalysisStore {
	return &AnalysisStore{
		reports: make(map[core.Domain]*core.DomainReport),
	}
}

// Publish stores a report for its domain. A second publish for the same
// domain is rejected with DuplicateDomainError, never merged. Each
// successful publish bumps the snapshot version.
func (s *AnalysisStore) Publish(report core.DomainReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[report.Domain]; exists {
		return &core.DuplicateDomainError{Domain: report.Domain}
	}

	s.version++
	report.Version = s.version
	s.reports[report.Domain] = &report

	slog.Debug("Published domain report",
		"domain", report.Domain,
		"version", s.version,
		"content_len", len(report.Content),
	)
	return nil
}

// Get returns the report for a domain, or DomainNotReadyError if none has
// been published yet.
func (s *AnalysisStore) Get(domain core.Domain) (*core.DomainReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[domain]
	if !ok {
		return nil, &core.DomainNotReadyError{Domain: domain}
	}
	return report, nil
}

// Has reports whether a domain has a published report.
func (s *AnalysisStore) Has(domain core.Domain) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reports[domain]
	return ok
}

// SnapshotVersion returns a monotonically increasing integer incremented on
// every successful publish. It serves as the cache-invalidation key for
// derived context views.
func (s *AnalysisStore) SnapshotVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Domains returns the domains that currently have published reports.
func (s *AnalysisStore) Domains() []core.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]core.Domain, 0, len(s.reports))
	for _, d := range core.AllDomains {
		if _, ok := s.reports[d]; ok {
			domains = append(domains, d)
		}
	}
	return domains
}
