package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/devtally/devtally/internal/shared"
)

// timeLayout is fixed-width so lexicographic order of stored timestamps
// matches chronological order in ORDER BY clauses.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is one bounded period of interaction with an AI tool.
type Session struct {
	ID          string
	Tool        shared.ToolKind
	StartTime   time.Time
	EndTime     *time.Time
	ProjectPath string
	Metadata    json.RawMessage
}

// Open reports whether the session has not been ended yet.
func (s Session) Open() bool {
	return s.EndTime == nil
}

// Interaction is one atomic recorded event within a session. Immutable once
// written.
type Interaction struct {
	ID         string
	SessionID  string
	Kind       shared.InteractionKind
	Timestamp  time.Time
	DurationMs int64
	ToolName   string
	Metadata   shared.Metadata
}

// Store is the durable event store backing all derived metrics. Every
// mutation persists before returning; there is no write-behind buffer a
// crashing hook process could lose.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and migrates) the sqlite database at path. The pragmas ride in
// the DSN because sqlite applies them per connection: database/sql pools
// connections, and an Exec'd pragma would only reach the one connection that
// happened to run it, leaving foreign keys unenforced everywhere else.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database %s: %w", path, err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ready guards against use before Open; that is a programmer error, not a
// retryable condition.
func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return shared.ErrStoreClosed
	}
	return nil
}

// CreateSession inserts a new session row and returns its id. A blank id is
// assigned a fresh UUID.
func (s *Store) CreateSession(session Session) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartTime.IsZero() {
		session.StartTime = time.Now().UTC()
	}
	metadata := string(session.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, tool, start_time, end_time, project_path, metadata_json)
		VALUES (?, ?, ?, NULL, ?, ?)
	`,
		session.ID,
		string(session.Tool),
		session.StartTime.UTC().Format(timeLayout),
		session.ProjectPath,
		metadata,
	)
	if err != nil {
		return "", fmt.Errorf("create session %s: %w", session.ID, err)
	}

	return session.ID, nil
}

// EndSession sets end_time exactly once. Ending an already-ended session is a
// no-op; ending an unknown session returns ErrSessionNotFound.
func (s *Store) EndSession(id string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE sessions SET end_time = ? WHERE id = ? AND end_time IS NULL`,
		at.UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if affected == 0 {
		if _, getErr := s.GetSession(id); getErr != nil {
			return getErr
		}
		// already ended
	}

	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(id string) (Session, error) {
	if err := s.ready(); err != nil {
		return Session{}, err
	}

	row := s.db.QueryRow(`
		SELECT id, tool, start_time, end_time, project_path, metadata_json
		FROM sessions
		WHERE id = ?
	`, id)

	session, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, shared.ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}

	return session, nil
}

// GetAllSessions returns every session, most recent start first.
func (s *Store) GetAllSessions() ([]Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, tool, start_time, end_time, project_path, metadata_json
		FROM sessions
		ORDER BY start_time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, scanErr := scanSession(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("list sessions: %w", scanErr)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: iterate rows: %w", err)
	}

	return sessions, nil
}

// RecordInteraction inserts an interaction row and returns its id. A blank id
// is assigned a fresh ULID (time-ordered, handy when eyeballing the table).
// The session_id foreign key rejects interactions for unknown sessions.
func (s *Store) RecordInteraction(interaction Interaction) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	if interaction.SessionID == "" {
		return "", fmt.Errorf("record interaction: missing session_id")
	}
	if interaction.ID == "" {
		interaction.ID = ulid.Make().String()
	}
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now().UTC()
	}

	var durationMs interface{}
	if interaction.DurationMs > 0 {
		durationMs = interaction.DurationMs
	}

	var metadata interface{}
	if !interaction.Metadata.IsZero() {
		data, err := json.Marshal(interaction.Metadata)
		if err != nil {
			return "", fmt.Errorf("record interaction %s: encode metadata: %w", interaction.ID, err)
		}
		metadata = string(data)
	}

	_, err := s.db.Exec(`
		INSERT INTO interactions (id, session_id, kind, timestamp, duration_ms, tool_name, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		interaction.ID,
		interaction.SessionID,
		string(interaction.Kind),
		interaction.Timestamp.UTC().Format(timeLayout),
		durationMs,
		interaction.ToolName,
		metadata,
	)
	if err != nil {
		return "", fmt.Errorf("record interaction %s: %w", interaction.ID, err)
	}

	return interaction.ID, nil
}

// GetInteractionsFor returns a session's interactions in ascending timestamp
// order.
func (s *Store) GetInteractionsFor(sessionID string) ([]Interaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, kind, timestamp, duration_ms, tool_name, metadata_json
		FROM interactions
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list interactions for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return collectInteractions(rows)
}

// GetAllInteractions returns every interaction in ascending timestamp order.
func (s *Store) GetAllInteractions() ([]Interaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, kind, timestamp, duration_ms, tool_name, metadata_json
		FROM interactions
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	return collectInteractions(rows)
}

func collectInteractions(rows *sql.Rows) ([]Interaction, error) {
	var interactions []Interaction
	for rows.Next() {
		interaction, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		interactions = append(interactions, interaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows: %w", err)
	}
	return interactions, nil
}

func scanSession(scan func(dest ...interface{}) error) (Session, error) {
	var (
		id          string
		tool        string
		startRaw    string
		endRaw      sql.NullString
		projectPath string
		metadata    string
	)

	if err := scan(&id, &tool, &startRaw, &endRaw, &projectPath, &metadata); err != nil {
		return Session{}, err
	}

	startTime, err := parseTimestamp(startRaw)
	if err != nil {
		return Session{}, fmt.Errorf("parse start_time for session %s: %w", id, err)
	}

	session := Session{
		ID:          id,
		Tool:        shared.ToolKind(tool),
		StartTime:   startTime,
		ProjectPath: projectPath,
		Metadata:    json.RawMessage(metadata),
	}

	if endRaw.Valid {
		endTime, err := parseTimestamp(endRaw.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse end_time for session %s: %w", id, err)
		}
		session.EndTime = &endTime
	}

	return session, nil
}

func scanInteraction(rows *sql.Rows) (Interaction, error) {
	var (
		id           string
		sessionID    string
		kind         string
		timestampRaw string
		durationMs   sql.NullInt64
		toolName     string
		metadataRaw  sql.NullString
	)

	if err := rows.Scan(&id, &sessionID, &kind, &timestampRaw, &durationMs, &toolName, &metadataRaw); err != nil {
		return Interaction{}, fmt.Errorf("scan interaction row: %w", err)
	}

	timestamp, err := parseTimestamp(timestampRaw)
	if err != nil {
		return Interaction{}, fmt.Errorf("parse timestamp for interaction %s: %w", id, err)
	}

	interaction := Interaction{
		ID:        id,
		SessionID: sessionID,
		Kind:      shared.InteractionKind(kind),
		Timestamp: timestamp,
		ToolName:  toolName,
	}
	if durationMs.Valid {
		interaction.DurationMs = durationMs.Int64
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &interaction.Metadata); err != nil {
			return Interaction{}, fmt.Errorf("decode metadata for interaction %s: %w", id, err)
		}
	}

	return interaction, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
