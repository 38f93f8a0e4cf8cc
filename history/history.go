// Package history keeps a journal of dispatched commands in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dhamidi/cmdgate"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DefaultDatabasePath is the default path where the journal is stored.
var DefaultDatabasePath = ".cmdgate/journal.db"

// ErrEntryNotFound is returned when a requested entry cannot be found.
var ErrEntryNotFound = errors.New("history: entry not found")

// Entry is one recorded dispatch.
type Entry struct {
	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Args      map[string]string `json:"args,omitempty"`
	Argv      []string          `json:"argv,omitempty"`
	Succeeded bool              `json:"succeeded"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	ExitCode  int               `json:"exit_code"`
	Output    string            `json:"output,omitempty"`
	Stdout    string            `json:"stdout,omitempty"`
	Stderr    string            `json:"stderr,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Journal records every dispatch it is given. It implements
// cmdgate.Recorder.
type Journal struct {
	db *sql.DB
}

var _ cmdgate.Recorder = (*Journal)(nil)

// Open opens the journal at dbPath, creating the file and its directory
// when needed.
func Open(dbPath string) (*Journal, error) {
	dbDir := filepath.Dir(dbPath)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores result together with the error Dispatch returned for it.
// It keeps working after ctx was canceled, so canceled dispatches are
// journaled too.
func (j *Journal) Record(ctx context.Context, result *cmdgate.Result, dispatchErr error) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	args, err := json.Marshal(result.Args)
	if err != nil {
		return err
	}
	argv, err := json.Marshal(result.Argv)
	if err != nil {
		return err
	}

	var errText string
	if dispatchErr != nil {
		errText = dispatchErr.Error()
	}

	_, err = j.db.ExecContext(context.WithoutCancel(ctx), `
	INSERT INTO dispatches (id, command, args, argv, succeeded, error_kind, error, exit_code, output, stdout, stderr, started_at, duration_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		id.String(), result.Command, args, argv, result.Succeeded,
		cmdgate.KindName(dispatchErr), errText, result.ExitCode,
		result.Output, result.Stdout, result.Stderr,
		result.StartedAt.UTC(), int64(result.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch of %s: %w", result.Command, err)
	}
	return nil
}

const selectEntry = `SELECT id, command, args, argv, succeeded, error_kind, error, exit_code, output, stdout, stderr, started_at, duration_ns FROM dispatches`

// List returns the most recent entries, newest first. A limit of zero or
// less returns all of them.
func (j *Journal) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, selectEntry+` ORDER BY rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}

func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?;`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %q: %w", id, ErrEntryNotFound)
	}
	return entry, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry      Entry
		args, argv []byte
		durationNs int64
	)
	err := row.Scan(&entry.ID, &entry.Command, &args, &argv, &entry.Succeeded,
		&entry.ErrorKind, &entry.Error, &entry.ExitCode,
		&entry.Output, &entry.Stdout, &entry.Stderr,
		&entry.StartedAt, &durationNs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(args, &entry.Args); err != nil {
		return nil, fmt.Errorf("decoding args of %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal(argv, &entry.Argv); err != nil {
		return nil, fmt.Errorf("decoding argv of %s: %w", entry.ID, err)
	}
	entry.Duration = time.Duration(durationNs)
	return &entry, nil
}
