// Package storage provides persistence for deliberation sessions.
package storage

import (
	"github.com/arbiterhq/arbiter/internal/core"
)

// Storage defines the interface for session persistence.
type Storage interface {
	// Initialize sets up the storage (creates tables, etc.)
	Initialize() error

	// Close closes the storage connection.
	Close() error

	// Session operations
	CreateSession(session *core.Session) error
	GetSession(id string) (*core.Session, error)
	UpdateSession(session *core.Session) error
	DeleteSession(id string) error
	ListSessions(limit, offset int) ([]*core.SessionSummary, error)

	// Result operations
	AddResult(sessionID string, stage string, result *core.PerspectiveResult) error
	GetResults(sessionID string) ([]*core.PerspectiveResult, error)
}

// Result stages recorded alongside each persisted PerspectiveResult.
const (
	StageAnalysis = "analysis"
	StageDebate   = "debate"
)
