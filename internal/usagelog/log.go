// Package usagelog records one row per completed turn: model, prompt,
// response, token counters, elapsed time, and the last tool invoked.
//
// DESIGN: Writes are best-effort. A failed write is logged and swallowed;
// the user still receives their answer when logging fails. An optional JSONL
// mirror appends the same entries one JSON object per line.
package usagelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

// Entry is one usage-log record.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	ModelName    string    `json:"model_name"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	InputTokens  *int      `json:"input_tokens"`  // nil when never reported
	OutputTokens *int      `json:"output_tokens"` // nil when never reported
	TotalTokens  *int      `json:"total_tokens"`  // nil when never reported
	ToolName     string    `json:"tool_name,omitempty"`
	ElapsedMs    int64     `json:"elapsed_ms"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS llm_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT NOT NULL,
	model_name    TEXT NOT NULL,
	prompt        TEXT NOT NULL,
	response      TEXT NOT NULL,
	input_tokens  INTEGER,
	output_tokens INTEGER,
	total_tokens  INTEGER,
	tool_name     TEXT,
	elapsed_ms    INTEGER NOT NULL
);
`

// Logger writes usage entries to SQLite and, optionally, a JSONL mirror.
type Logger struct {
	db       *sql.DB
	jsonPath string
	mu       sync.Mutex
}

// Open opens the usage log database and applies the schema.
// jsonPath enables the JSONL mirror when non-empty.
func Open(dbPath, jsonPath string) (*Logger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating usage log dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening usage log db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating usage log schema: %w", err)
	}

	if jsonPath != "" {
		if err := os.MkdirAll(filepath.Dir(jsonPath), 0o750); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating usage jsonl dir: %w", err)
		}
	}

	return &Logger{db: db, jsonPath: jsonPath}, nil
}

// Record writes one entry. Failures are logged, never returned: usage
// logging must not disturb a turn that already succeeded.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	log.Info().
		Str("model", e.ModelName).
		Str("tool", e.ToolName).
		Interface("input_tokens", e.InputTokens).
		Interface("output_tokens", e.OutputTokens).
		Interface("total_tokens", e.TotalTokens).
		Int64("elapsed_ms", e.ElapsedMs).
		Msg("turn usage")

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO llm_logs (timestamp, model_name, prompt, response,
		 input_tokens, output_tokens, total_tokens, tool_name, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Format(time.RFC3339Nano), e.ModelName, e.Prompt, e.Response,
		nullableInt(e.InputTokens), nullableInt(e.OutputTokens), nullableInt(e.TotalTokens),
		nullableString(e.ToolName), e.ElapsedMs,
	)
	if err != nil {
		log.Error().Err(err).Msg("usagelog: failed to write llm_logs row")
	}

	if l.jsonPath != "" {
		if err := appendJSONL(l.jsonPath, e); err != nil {
			log.Error().Err(err).Str("path", l.jsonPath).Msg("usagelog: failed to write jsonl entry")
		}
	}
}

// Count returns the number of recorded entries.
func (l *Logger) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_logs`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (l *Logger) Close() error {
	return l.db.Close()
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
