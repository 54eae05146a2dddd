package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/types"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Pragmas for concurrent access:
	// _foreign_keys=1: referential integrity for future schema growth
	// mode=rwc: Read/Write/Create mode
	// _journal_mode=WAL: concurrent readers with a single writer, so a
	//   grant write is never observed half-written
	// _busy_timeout=3000: wait up to 3 seconds for locks
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	// WAL mode supports one writer and multiple concurrent readers
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the database schema with all tables and indexes
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS always_allow_grants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author TEXT NOT NULL,
		operation_kind TEXT NOT NULL,
		granted_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer)),
		UNIQUE(author, operation_kind)
	);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		actor TEXT NOT NULL,
		operation_kind TEXT NOT NULL,
		subject TEXT,
		scan_summary_json TEXT NOT NULL,
		consent_outcome TEXT,
		outcome TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE TABLE IF NOT EXISTS tools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		author TEXT NOT NULL,
		source TEXT NOT NULL,
		version TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_author ON always_allow_grants(author);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_entries(outcome);
	CREATE INDEX IF NOT EXISTS idx_tools_author ON tools(author);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetGrant reports whether an always-allow grant exists for the pair
func (s *SQLiteStore) GetGrant(ctx context.Context, author string, kind types.OperationKind) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM always_allow_grants WHERE author = ? AND operation_kind = ?
	`, author, string(kind)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewTransientf("failed to query grant: %w", err)
	}
	return true, nil
}

// SetGrant persists an always-allow grant. A single upsert statement keeps
// the write atomic with respect to concurrent readers.
func (s *SQLiteStore) SetGrant(ctx context.Context, author string, kind types.OperationKind) error {
	if author == "" {
		return errors.NewPermanentf("grant author cannot be empty")
	}
	if kind == "" {
		return errors.NewPermanentf("grant operation kind cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO always_allow_grants (author, operation_kind, granted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(author, operation_kind) DO NOTHING
	`, author, string(kind), time.Now().Unix())
	if err != nil {
		return errors.NewTransientf("failed to insert grant: %w", err)
	}
	return nil
}

// RevokeGrant removes a grant; revoking a missing grant is a no-op
func (s *SQLiteStore) RevokeGrant(ctx context.Context, author string, kind types.OperationKind) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM always_allow_grants WHERE author = ? AND operation_kind = ?
	`, author, string(kind))
	if err != nil {
		return errors.NewTransientf("failed to revoke grant: %w", err)
	}
	return nil
}

// ListGrants returns all grants ordered by author
func (s *SQLiteStore) ListGrants(ctx context.Context) ([]*Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author, operation_kind, granted_at
		FROM always_allow_grants
		ORDER BY author, operation_kind
	`)
	if err != nil {
		return nil, errors.NewTransientf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var grant Grant
		var kind string
		var grantedAt int64
		if err := rows.Scan(&grant.Author, &kind, &grantedAt); err != nil {
			return nil, errors.NewTransientf("failed to scan grant: %w", err)
		}
		grant.OperationKind = types.OperationKind(kind)
		grant.GrantedAt = time.Unix(grantedAt, 0).UTC()
		grants = append(grants, &grant)
	}
	return grants, rows.Err()
}

// AppendAudit appends one audit entry
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return errors.NewPermanentf("audit entry cannot be nil")
	}

	summaryJSON, err := json.Marshal(entry.ScanSummary)
	if err != nil {
		return errors.NewPermanentf("failed to marshal scan summary: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (ts, actor, operation_kind, subject, scan_summary_json, consent_outcome, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ts.Unix(), entry.Actor, string(entry.OperationKind), entry.Subject,
		string(summaryJSON), entry.ConsentOutcome, entry.Outcome)
	if err != nil {
		return errors.NewTransientf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries, newest first, with optional filters
func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT id, ts, actor, operation_kind, subject, scan_summary_json, consent_outcome, outcome
		FROM audit_entries
	`
	var conditions []string
	var args []interface{}

	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.OperationKind != "" {
		conditions = append(conditions, "operation_kind = ?")
		args = append(args, filter.OperationKind)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var ts int64
		var kind, summaryJSON string
		var subject, consentOutcome sql.NullString
		if err := rows.Scan(&entry.ID, &ts, &entry.Actor, &kind, &subject,
			&summaryJSON, &consentOutcome, &entry.Outcome); err != nil {
			return nil, errors.NewTransientf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(ts, 0).UTC()
		entry.OperationKind = types.OperationKind(kind)
		entry.Subject = subject.String
		entry.ConsentOutcome = consentOutcome.String
		if err := json.Unmarshal([]byte(summaryJSON), &entry.ScanSummary); err != nil {
			return nil, errors.NewPermanentf("failed to unmarshal scan summary: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// SaveTool inserts or updates a tool by name in a transaction
func (s *SQLiteStore) SaveTool(ctx context.Context, tool *ToolRecord) error {
	if tool == nil {
		return errors.NewPermanentf("tool cannot be nil")
	}
	if tool.Name == "" {
		return errors.NewPermanentf("tool name cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowUnix := time.Now().Unix()

	var existingID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM tools WHERE name = ?
	`, tool.Name).Scan(&existingID)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tools (name, author, source, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tool.Name, tool.Author, tool.Source, tool.Version, nowUnix, nowUnix)
		if err != nil {
			return errors.NewTransientf("failed to insert tool: %w", err)
		}
	} else if err != nil {
		return errors.NewTransientf("failed to query tool: %w", err)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE tools SET author = ?, source = ?, version = ?, updated_at = ? WHERE id = ?
		`, tool.Author, tool.Source, tool.Version, nowUnix, existingID)
		if err != nil {
			return errors.NewTransientf("failed to update tool: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit tool: %w", err)
	}
	return nil
}

// GetTool retrieves a tool by name
func (s *SQLiteStore) GetTool(ctx context.Context, name string) (*ToolRecord, error) {
	var tool ToolRecord
	var createdAt, updatedAt int64
	var version sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT name, author, source, version, created_at, updated_at
		FROM tools WHERE name = ?
	`, name).Scan(&tool.Name, &tool.Author, &tool.Source, &version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to get tool: %w", err)
	}
	tool.Version = version.String
	tool.CreatedAt = time.Unix(createdAt, 0).UTC()
	tool.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &tool, nil
}

// ListTools returns all registered tools ordered by name
func (s *SQLiteStore) ListTools(ctx context.Context) ([]*ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, author, source, version, created_at, updated_at
		FROM tools ORDER BY name
	`)
	if err != nil {
		return nil, errors.NewTransientf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var tools []*ToolRecord
	for rows.Next() {
		var tool ToolRecord
		var createdAt, updatedAt int64
		var version sql.NullString
		if err := rows.Scan(&tool.Name, &tool.Author, &tool.Source, &version, &createdAt, &updatedAt); err != nil {
			return nil, errors.NewTransientf("failed to scan tool: %w", err)
		}
		tool.Version = version.String
		tool.CreatedAt = time.Unix(createdAt, 0).UTC()
		tool.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		tools = append(tools, &tool)
	}
	return tools, rows.Err()
}

// DeleteTool removes a tool by name
func (s *SQLiteStore) DeleteTool(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE name = ?`, name)
	if err != nil {
		return errors.NewTransientf("failed to delete tool: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewTransientf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrToolNotFound
	}
	return nil
}
