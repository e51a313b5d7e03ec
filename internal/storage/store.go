package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"dex_go/internal/event"
)

// LogStore persists the request and response logs in SQLite. The request
// log is the source of truth: a request is durable before it is applied,
// and the response at the same sequence number is recorded after.
type LogStore struct {
	db *sql.DB
}

// NewLogStore opens (or creates) the SQLite log with WAL mode enabled.
func NewLogStore(dbPath string) (*LogStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for high-performance deterministic logging
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// Metadata table for KV storage
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	// Request log for WAL-first sequencing
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			seq INTEGER PRIMARY KEY,
			kind INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests table: %w", err)
	}

	// Response log, one row per processed request
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			seq INTEGER PRIMARY KEY,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			FOREIGN KEY (seq) REFERENCES requests (seq)
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create responses table: %w", err)
	}

	return &LogStore{db: db}, nil
}

// SaveRequest stores a request in the log before it is processed.
func (s *LogStore) SaveRequest(ctx context.Context, req *event.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO requests (seq, kind, created_at, payload) VALUES (?, ?, ?, ?)",
		req.Seq, req.Kind, req.CreatedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	return nil
}

// SaveResponse stores the outcome of a processed request.
func (s *LogStore) SaveResponse(ctx context.Context, resp *event.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO responses (seq, created_at, payload) VALUES (?, ?, ?)",
		resp.Seq, resp.CreatedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}

	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *LogStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *LogStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// LastRequestSeq returns the highest request sequence number stored.
// Returns 0 if the log is empty.
func (s *LogStore) LastRequestSeq(ctx context.Context) (uint64, error) {
	return s.lastSeq(ctx, "requests")
}

// LastResponseSeq returns the highest response sequence number stored.
// Returns 0 if no responses exist.
func (s *LogStore) LastResponseSeq(ctx context.Context) (uint64, error) {
	return s.lastSeq(ctx, "responses")
}

func (s *LogStore) lastSeq(ctx context.Context, table string) (uint64, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM "+table).Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq from %s: %w", table, err)
	}
	if !lastSeq.Valid {
		return 0, nil // Empty log
	}
	return uint64(lastSeq.Int64), nil
}

// LoadRequestsFrom loads all requests starting from fromSeq (inclusive),
// in sequence order. Used by recovery to replay the log suffix.
func (s *LogStore) LoadRequestsFrom(ctx context.Context, fromSeq uint64) ([]*event.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM requests WHERE seq >= ? ORDER BY seq ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []*event.Request
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		var req event.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request: %w", err)
		}
		requests = append(requests, &req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return requests, nil
}

// GetResponse loads the recorded response for a sequence number.
// Returns nil if no response was recorded.
func (s *LogStore) GetResponse(ctx context.Context, seq uint64) (*event.Response, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM responses WHERE seq = ?", seq).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query response %d: %w", seq, err)
	}
	var resp event.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response %d: %w", seq, err)
	}
	return &resp, nil
}

// Close closes the database connection.
func (s *LogStore) Close() error {
	return s.db.Close()
}
