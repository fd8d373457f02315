package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS reports (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	agent_id         TEXT NOT NULL,
	protocol_name    TEXT NOT NULL,
	protocol_version TEXT NOT NULL,
	window_start_ts  REAL NOT NULL,
	window_end_ts    REAL NOT NULL,
	message_ids      TEXT NOT NULL,
	english_summary  TEXT NOT NULL,
	coverage         REAL NOT NULL,
	self_confidence  REAL NOT NULL,
	notes            TEXT,
	accepted_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	from_agent   TEXT NOT NULL,
	to_agent     TEXT NOT NULL,
	content      TEXT NOT NULL,
	kind         TEXT NOT NULL,
	protocol     TEXT,
	accepted_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	op          TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	protocol    TEXT,
	ok          INTEGER NOT NULL,
	reason      TEXT,
	error       TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_agent ON reports(agent_id);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent);
CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_id);
`
// #endregion schema

// #region store-struct
// Store is the gateway's append-only audit ledger in SQLite. Rows are only
// ever inserted.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor

// MemoryDSN keeps the ledger in process memory.
const MemoryDSN = ":memory:"

// Open opens a SQLite ledger at dsn and runs migrations. An in-memory DSN is
// pinned to one connection, since each SQLite connection would otherwise see
// its own empty database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dsn == MemoryDSN {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-migrated *sql.DB. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region append

// AppendReport records an accepted report and returns its ledger ID.
func (s *Store) AppendReport(ctx context.Context, r protocol.Report, acceptedAt time.Time) (string, error) {
	ids := r.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal message ids: %w", err)
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, agent_id, protocol_name, protocol_version, window_start_ts, window_end_ts,
		                      message_ids, english_summary, coverage, self_confidence, notes, accepted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.AgentID, r.ProtocolName, r.ProtocolVersion, r.WindowStartTS, r.WindowEndTS,
		string(idsJSON), r.EnglishSummary, r.Coverage, r.SelfConfidence, nullIfEmpty(r.Notes),
		acceptedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// AppendMessage records an accepted send and returns its ledger ID.
func (s *Store) AppendMessage(ctx context.Context, m MessageEntry) (string, error) {
	if m.AcceptedAt.IsZero() {
		m.AcceptedAt = time.Now()
	}
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, from_agent, to_agent, content, kind, protocol, accepted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, m.From, m.To, m.Content, m.Kind, nullIfEmpty(m.Protocol),
		m.AcceptedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// AppendDecision records one gateway verdict and returns its ledger ID.
func (s *Store) AppendDecision(ctx context.Context, d DecisionEntry) (string, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	id := uuid.New().String()
	ok := 0
	if d.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, op, agent_id, protocol, ok, reason, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, d.Op, d.AgentID, nullIfEmpty(d.Protocol), ok, nullIfEmpty(d.Reason), nullIfEmpty(d.Error),
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert decision: %w", err)
	}
	return id, nil
}

// #endregion append

// #region list

// ListReports returns up to limit most recent reports, newest first.
// An empty agentID lists every agent.
func (s *Store) ListReports(ctx context.Context, agentID string, limit int) ([]ReportEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, protocol_name, protocol_version, window_start_ts, window_end_ts,
		        message_ids, english_summary, coverage, self_confidence, notes, accepted_at
		 FROM reports WHERE (? = '' OR agent_id = ?) ORDER BY seq DESC LIMIT ?`,
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var entries []ReportEntry
	for rows.Next() {
		var e ReportEntry
		var idsJSON, acceptedStr string
		var notes sql.NullString
		r := &e.Report
		if err := rows.Scan(&e.ID, &r.AgentID, &r.ProtocolName, &r.ProtocolVersion, &r.WindowStartTS,
			&r.WindowEndTS, &idsJSON, &r.EnglishSummary, &r.Coverage, &r.SelfConfidence, &notes, &acceptedStr); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &r.MessageIDs); err != nil {
			return nil, fmt.Errorf("unmarshal message ids: %w", err)
		}
		if notes.Valid {
			r.Notes = notes.String
		}
		e.AcceptedAt, _ = time.Parse(time.RFC3339Nano, acceptedStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListMessages returns up to limit most recent accepted messages, newest first.
func (s *Store) ListMessages(ctx context.Context, agentID string, limit int) ([]MessageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_agent, to_agent, content, kind, protocol, accepted_at
		 FROM messages WHERE (? = '' OR from_agent = ?) ORDER BY seq DESC LIMIT ?`,
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var entries []MessageEntry
	for rows.Next() {
		var e MessageEntry
		var proto sql.NullString
		var acceptedStr string
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Content, &e.Kind, &proto, &acceptedStr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if proto.Valid {
			e.Protocol = proto.String
		}
		e.AcceptedAt, _ = time.Parse(time.RFC3339Nano, acceptedStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListDecisions returns up to limit most recent decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, agentID string, limit int) ([]DecisionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op, agent_id, protocol, ok, reason, error, created_at
		 FROM decisions WHERE (? = '' OR agent_id = ?) ORDER BY seq DESC LIMIT ?`,
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var proto, reason, errStr sql.NullString
		var ok int
		var createdStr string
		if err := rows.Scan(&e.ID, &e.Op, &e.AgentID, &proto, &ok, &reason, &errStr, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.OK = ok == 1
		e.Protocol = proto.String
		e.Reason = reason.String
		e.Error = errStr.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns row counts for every table plus rejected decisions.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM reports),
		        (SELECT COUNT(*) FROM messages),
		        (SELECT COUNT(*) FROM decisions),
		        (SELECT COUNT(*) FROM decisions WHERE ok = 0)`,
	).Scan(&c.Reports, &c.Messages, &c.Decisions, &c.Rejected)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
