package event

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the durable Store implementation, grounded on the
// teacher's internal/db.Store: same WAL-mode-plus-embedded-schema open
// sequence, same path-escaping and recreate-on-incompatible-schema
// fallback.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite-backed event log at dbPath. If an
// existing database has an incompatible schema it is deleted and
// recreated, mirroring the teacher's db.Open.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	store, err := openSQLite(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") ||
			strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "SQL logic error") {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("remove incompatible event log: %w", removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openSQLite(dbPath)
		}
		return nil, err
	}
	return store, nil
}

func openSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}

	escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
	connStr := "file:" + escapedPath + "?_time_format=sqlite"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize event log schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendExpectingSeq(ctx context.Context, ev Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE aggregate_id = ?`, ev.AggregateID,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("query latest sequence: %w", err)
	}

	current := int64(0)
	if latest.Valid {
		current = latest.Int64
	}
	if ev.Sequence != current+1 {
		return &cmderrors.ConcurrencyConflict{Expected: uint64(ev.Sequence - 1), Actual: uint64(current)}
	}

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (aggregate_id, sequence, event_type, timestamp, source_agent, data, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.AggregateID, ev.Sequence, string(ev.Type), ev.Timestamp.UTC(), ev.SourceAgent,
		string(dataJSON), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, sequence, event_type, timestamp, source_agent, data, metadata
		 FROM events WHERE aggregate_id = ? ORDER BY sequence ASC`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) LoadRange(ctx context.Context, aggregateID string, from, to time.Time) ([]Event, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT aggregate_id, sequence, event_type, timestamp, source_agent, data, metadata
		FROM events WHERE aggregate_id = ?`)
	args := []any{aggregateID}

	if !from.IsZero() {
		query.WriteString(" AND timestamp > ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query.WriteString(" AND timestamp <= ?")
		args = append(args, to.UTC())
	}
	query.WriteString(" ORDER BY sequence ASC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) Scan(ctx context.Context, filter ScanFilter) ([]Event, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT aggregate_id, sequence, event_type, timestamp, source_agent, data, metadata FROM events WHERE 1=1`)
	var args []any

	if filter.AggregateID != "" {
		query.WriteString(" AND aggregate_id = ?")
		args = append(args, filter.AggregateID)
	}
	if filter.Type != "" {
		query.WriteString(" AND event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.SourceAgent != "" {
		query.WriteString(" AND source_agent = ?")
		args = append(args, filter.SourceAgent)
	}
	if !filter.From.IsZero() {
		query.WriteString(" AND timestamp >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query.WriteString(" AND timestamp <= ?")
		args = append(args, filter.To.UTC())
	}
	query.WriteString(" ORDER BY aggregate_id ASC, sequence ASC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if filter.Path == "" {
		return events, nil
	}

	// path isn't a column (it's nested in the data JSON blob), so filter
	// it in Go after decoding.
	var filtered []Event
	for _, e := range events {
		if e.Path() == filter.Path {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *SQLiteStore) LatestSequence(ctx context.Context, aggregateID string) (int64, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&latest)
	if err != nil {
		return 0, err
	}
	if !latest.Valid {
		return 0, nil
	}
	return latest.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e                  Event
			eventType          string
			dataJSON, metaJSON string
		)
		if err := rows.Scan(&e.AggregateID, &e.Sequence, &eventType, &e.Timestamp, &e.SourceAgent, &dataJSON, &metaJSON); err != nil {
			return nil, err
		}
		e.Type = Type(eventType)
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
