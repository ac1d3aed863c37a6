// Package storage provides SQLite-backed persistence for emitted stream
// events, the scenario audit log and correlation snapshots.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/streamsim/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxEvents int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/streamsim/data.db.
func New(maxEvents int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "streamsim", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxEvents: maxEvents}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stream_events (
			id          TEXT PRIMARY KEY,
			stream      TEXT NOT NULL,
			ts          INTEGER NOT NULL,
			data        TEXT NOT NULL DEFAULT '{}',
			normalized  REAL,
			flag        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_events_ts ON stream_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_events_stream_ts ON stream_events(stream, ts)`,
		`CREATE TABLE IF NOT EXISTS scenario_audit (
			id          TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL,
			action      TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT '',
			detail      TEXT NOT NULL DEFAULT '',
			at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scenario_audit_at ON scenario_audit(at)`,
		`CREATE TABLE IF NOT EXISTS correlations (
			event_id         TEXT NOT NULL,
			stream           TEXT NOT NULL,
			strength         REAL NOT NULL,
			direction        TEXT NOT NULL,
			confidence       REAL NOT NULL,
			sample_size      INTEGER NOT NULL,
			start_time       INTEGER NOT NULL,
			end_time         INTEGER NOT NULL,
			baseline_mean    REAL NOT NULL,
			event_mean       REAL NOT NULL,
			change_magnitude REAL NOT NULL,
			saved_at         INTEGER NOT NULL,
			PRIMARY KEY (event_id, stream)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddEvents appends events in one transaction. Inert events are stored
// without a normalized value.
func (s *Storage) AddEvents(events []models.StreamEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO stream_events (id, stream, ts, data, normalized, flag)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", ev.Stream, err)
		}
		var normalized sql.NullFloat64
		if ev.NormalizedValue != nil {
			normalized = sql.NullFloat64{Float64: *ev.NormalizedValue, Valid: true}
		}
		if _, err := stmt.Exec(uuid.NewString(), ev.Stream, ev.Timestamp.UnixNano(),
			string(data), normalized, string(ev.AnomalyFlag)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// EventsSince returns events strictly newer than since in chronological
// order. keep filters rows; at most limit kept rows are returned.
func (s *Storage) EventsSince(since time.Time, limit int, keep func(models.StreamEvent) bool) ([]models.StreamEvent, error) {
	rows, err := s.db.Query(`SELECT `+eventCols+` FROM stream_events
		WHERE ts > ? ORDER BY ts ASC, rowid ASC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.StreamEvent{}
	for rows.Next() && (limit <= 0 || len(events) < limit) {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if keep != nil && !keep(ev) {
			continue
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentEvents returns up to limit newest events, newest first. An empty
// stream matches every stream.
func (s *Storage) RecentEvents(stream string, limit int) ([]models.StreamEvent, error) {
	query := `SELECT ` + eventCols + ` FROM stream_events`
	var args []any
	if stream != "" {
		query += ` WHERE stream = ?`
		args = append(args, stream)
	}
	query += ` ORDER BY ts DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.StreamEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events.
func (s *Storage) CountEvents() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM stream_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// RotateEvents keeps at most maxEvents newest events and reports how many
// were removed.
func (s *Storage) RotateEvents() (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM stream_events WHERE id NOT IN (
			SELECT id FROM stream_events ORDER BY ts DESC, rowid DESC LIMIT ?
		)`, s.maxEvents)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AddAudit records a scenario lifecycle entry, assigning an id when empty.
func (s *Storage) AddAudit(entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO scenario_audit (id, scenario_id, action, status, detail, at)
		VALUES (?,?,?,?,?,?)`,
		entry.ID, entry.ScenarioID, entry.Action, string(entry.Status), entry.Detail, entry.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns up to limit newest audit entries, newest first.
func (s *Storage) ListAudit(limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, scenario_id, action, status, detail, at
		FROM scenario_audit ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var status string
		var atNano int64
		if err := rows.Scan(&e.ID, &e.ScenarioID, &e.Action, &status, &e.Detail, &atNano); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Status = models.Status(status)
		e.At = time.Unix(0, atNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveCorrelations upserts snapshots keyed by event and stream.
func (s *Storage) SaveCorrelations(cs []models.CorrelationData) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	for _, c := range cs {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO correlations
				(event_id, stream, strength, direction, confidence, sample_size,
				 start_time, end_time, baseline_mean, event_mean, change_magnitude, saved_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.EventID, c.Stream, c.Strength, string(c.Direction), c.Confidence, c.SampleSize,
			c.StartTime.UnixNano(), c.EndTime.UnixNano(), c.BaselineMean, c.EventMean, c.ChangeMagnitude, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save correlation: %w", err)
		}
	}
	return tx.Commit()
}

// LoadCorrelations returns stored snapshots for eventID, or all snapshots
// when eventID is empty.
func (s *Storage) LoadCorrelations(eventID string) ([]models.CorrelationData, error) {
	query := `SELECT event_id, stream, strength, direction, confidence, sample_size,
		start_time, end_time, baseline_mean, event_mean, change_magnitude
		FROM correlations`
	var args []any
	if eventID != "" {
		query += ` WHERE event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY event_id, stream`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	out := []models.CorrelationData{}
	for rows.Next() {
		var c models.CorrelationData
		var direction string
		var startNano, endNano int64
		err := rows.Scan(&c.EventID, &c.Stream, &c.Strength, &direction, &c.Confidence, &c.SampleSize,
			&startNano, &endNano, &c.BaselineMean, &c.EventMean, &c.ChangeMagnitude)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		c.Direction = models.CorrelationDirection(direction)
		c.StartTime = time.Unix(0, startNano)
		c.EndTime = time.Unix(0, endNano)
		out = append(out, c)
	}
	return out, rows.Err()
}

const eventCols = `stream, ts, data, normalized, flag`

func scanEvent(scan func(...any) error) (models.StreamEvent, error) {
	var ev models.StreamEvent
	var tsNano int64
	var data, flag string
	var normalized sql.NullFloat64
	if err := scan(&ev.Stream, &tsNano, &data, &normalized, &flag); err != nil {
		return ev, err
	}
	ev.Timestamp = time.Unix(0, tsNano)
	if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
		return ev, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if normalized.Valid {
		ev.SetValue(normalized.Float64, models.AnomalyFlag(flag))
	}
	return ev, nil
}
