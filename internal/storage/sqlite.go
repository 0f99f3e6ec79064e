package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arbiterhq/arbiter/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: dbPath,
	}, nil
}

// Initialize creates the database schema.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		proposal TEXT NOT NULL,
		roles_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		assessment_json TEXT,
		decision_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		round INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		succeeded INTEGER NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_session_id ON results(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and its accumulated results.
func (s *SQLiteStorage) CreateSession(session *core.Session) error {
	rolesJSON, err := json.Marshal(session.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	assessmentJSON, decisionJSON, err := marshalOutcome(session)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (id, proposal, roles_json, status, assessment_json, decision_json, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		session.ID,
		session.Proposal,
		string(rolesJSON),
		session.Status,
		assessmentJSON,
		decisionJSON,
		session.CreatedAt,
		session.UpdatedAt,
		session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i := range session.Analysis {
		if err := s.AddResult(session.ID, StageAnalysis, &session.Analysis[i]); err != nil {
			return err
		}
	}
	for _, round := range session.Transcript.Rounds {
		for i := range round.Results {
			if err := s.AddResult(session.ID, StageDebate, &round.Results[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// GetSession retrieves a session by ID, rebuilding its transcript from the
// persisted results. Returns nil without error when the ID is unknown.
func (s *SQLiteStorage) GetSession(id string) (*core.Session, error) {
	query := `
	SELECT id, proposal, roles_json, status, assessment_json, decision_json, created_at, updated_at, completed_at
	FROM sessions
	WHERE id = ?
	`

	var session core.Session
	var rolesJSON string
	var assessmentJSON, decisionJSON sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(query, id).Scan(
		&session.ID,
		&session.Proposal,
		&rolesJSON,
		&session.Status,
		&assessmentJSON,
		&decisionJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal([]byte(rolesJSON), &session.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	if assessmentJSON.Valid {
		var assessment core.ConsensusAssessment
		if err := json.Unmarshal([]byte(assessmentJSON.String), &assessment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assessment: %w", err)
		}
		session.Assessment = &assessment
	}
	if decisionJSON.Valid {
		var decision core.Decision
		if err := json.Unmarshal([]byte(decisionJSON.String), &decision); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
		}
		session.Decision = &decision
	}
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}

	if err := s.loadResults(&session); err != nil {
		return nil, err
	}

	return &session, nil
}

// UpdateSession updates an existing session's mutable fields.
func (s *SQLiteStorage) UpdateSession(session *core.Session) error {
	assessmentJSON, decisionJSON, err := marshalOutcome(session)
	if err != nil {
		return err
	}

	session.UpdatedAt = time.Now()

	query := `
	UPDATE sessions
	SET status = ?, assessment_json = ?, decision_json = ?, updated_at = ?, completed_at = ?
	WHERE id = ?
	`

	_, err = s.db.Exec(query,
		session.Status,
		assessmentJSON,
		decisionJSON,
		session.UpdatedAt,
		session.CompletedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// DeleteSession deletes a session and its results.
func (s *SQLiteStorage) DeleteSession(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions returns session summaries, newest first.
func (s *SQLiteStorage) ListSessions(limit, offset int) ([]*core.SessionSummary, error) {
	query := `
	SELECT s.id, s.proposal, s.status, s.roles_json, s.decision_json, s.created_at,
		   (SELECT COUNT(DISTINCT round) FROM results WHERE session_id = s.id AND stage = ?) as round_count
	FROM sessions s
	ORDER BY s.created_at DESC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.Query(query, StageDebate, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*core.SessionSummary
	for rows.Next() {
		var summary core.SessionSummary
		var rolesJSON string
		var decisionJSON sql.NullString

		err := rows.Scan(
			&summary.ID,
			&summary.Proposal,
			&summary.Status,
			&rolesJSON,
			&decisionJSON,
			&summary.CreatedAt,
			&summary.RoundCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}

		var roles []core.Role
		if err := json.Unmarshal([]byte(rolesJSON), &roles); err == nil {
			summary.RoleCount = len(roles)
		}
		if decisionJSON.Valid {
			var decision core.Decision
			if err := json.Unmarshal([]byte(decisionJSON.String), &decision); err == nil {
				summary.Action = decision.Action
			}
		}

		summaries = append(summaries, &summary)
	}

	return summaries, rows.Err()
}

// AddResult adds a perspective result to a session.
func (s *SQLiteStorage) AddResult(sessionID string, stage string, result *core.PerspectiveResult) error {
	query := `
	INSERT INTO results (id, session_id, stage, round, role, content, succeeded, error_kind, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		result.ID,
		sessionID,
		stage,
		result.Round,
		result.Role,
		result.Content,
		result.Succeeded,
		result.ErrKind,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	return nil
}

// GetResults returns all debate-stage results for a session in round order.
func (s *SQLiteStorage) GetResults(sessionID string) ([]*core.PerspectiveResult, error) {
	results, _, err := s.queryResults(sessionID, StageDebate)
	return results, err
}

// loadResults rebuilds the session's analysis slice and transcript.
func (s *SQLiteStorage) loadResults(session *core.Session) error {
	analysis, _, err := s.queryResults(session.ID, StageAnalysis)
	if err != nil {
		return err
	}
	for _, r := range analysis {
		session.Analysis = append(session.Analysis, *r)
	}

	debate, maxRound, err := s.queryResults(session.ID, StageDebate)
	if err != nil {
		return err
	}
	if len(debate) == 0 {
		return nil
	}

	rounds := make([]core.DebateRound, maxRound+1)
	for i := range rounds {
		rounds[i].Index = i
	}
	for _, r := range debate {
		rounds[r.Round].Results = append(rounds[r.Round].Results, *r)
	}
	session.Transcript = core.Transcript{Rounds: rounds}
	return nil
}

func (s *SQLiteStorage) queryResults(sessionID, stage string) ([]*core.PerspectiveResult, int, error) {
	query := `
	SELECT id, round, role, content, succeeded, error_kind, created_at
	FROM results
	WHERE session_id = ? AND stage = ?
	ORDER BY round ASC, rowid ASC
	`

	rows, err := s.db.Query(query, sessionID, stage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	maxRound := -1
	var results []*core.PerspectiveResult
	for rows.Next() {
		var r core.PerspectiveResult
		err := rows.Scan(
			&r.ID,
			&r.Round,
			&r.Role,
			&r.Content,
			&r.Succeeded,
			&r.ErrKind,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan result: %w", err)
		}
		if r.Round > maxRound {
			maxRound = r.Round
		}
		results = append(results, &r)
	}

	return results, maxRound, rows.Err()
}

// marshalOutcome serializes the session's optional assessment and decision
// to nullable JSON columns.
func marshalOutcome(session *core.Session) (assessment *string, decision *string, err error) {
	if session.Assessment != nil {
		data, err := json.Marshal(session.Assessment)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal assessment: %w", err)
		}
		str := string(data)
		assessment = &str
	}
	if session.Decision != nil {
		data, err := json.Marshal(session.Decision)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal decision: %w", err)
		}
		str := string(data)
		decision = &str
	}
	return assessment, decision, nil
}
