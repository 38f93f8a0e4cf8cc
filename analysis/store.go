package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store keeps analysis issues and per-tree progress in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	initSQL := `
	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		base_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		description TEXT NOT NULL,
		fix TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_file_path ON issues (file_path);

	CREATE TABLE IF NOT EXISTS processed_files (
		base_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (base_path, file_path)
	);
	`
	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveIssues stores issues found under basePath, assigning IDs and
// timestamps to those that have none.
func (s *Store) SaveIssues(ctx context.Context, basePath string, issues []Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO issues (id, base_path, file_path, start_line, end_line, description, fix, priority, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare issue insert: %w", err)
	}
	defer stmt.Close()

	for i := range issues {
		issue := &issues[i]
		if issue.ID == "" {
			id, err := uuid.NewRandom()
			if err != nil {
				return err
			}
			issue.ID = id.String()
		}
		if issue.CreatedAt.IsZero() {
			issue.CreatedAt = time.Now().UTC()
		}
		issue.BasePath = basePath
		if _, err := stmt.ExecContext(ctx, issue.ID, basePath, issue.Path, issue.StartLine, issue.EndLine, issue.Description, issue.Fix, issue.Priority, issue.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert issue for %s: %w", issue.Path, err)
		}
	}

	return tx.Commit()
}

// MarkProcessed records that filePath was fully analyzed as part of
// basePath.
func (s *Store) MarkProcessed(ctx context.Context, basePath, filePath string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO processed_files (base_path, file_path, processed_at)
	VALUES (?, ?, ?)
	ON CONFLICT(base_path, file_path) DO UPDATE SET processed_at = excluded.processed_at;
	`, basePath, filePath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark %s as processed: %w", filePath, err)
	}
	return nil
}

// Processed returns the files already analyzed under basePath.
func (s *Store) Processed(ctx context.Context, basePath string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM processed_files WHERE base_path = ?;`, basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress for %s: %w", basePath, err)
	}
	defer rows.Close()

	processed := map[string]bool{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		processed[path] = true
	}
	return processed, rows.Err()
}

// ResetProgress forgets which files under basePath were analyzed, so the
// next tree analysis starts over.
func (s *Store) ResetProgress(ctx context.Context, basePath string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processed_files WHERE base_path = ?;`, basePath); err != nil {
		return fmt.Errorf("failed to reset progress for %s: %w", basePath, err)
	}
	return nil
}

// Search returns issues whose file, description or fix contains query,
// highest priority first.
func (s *Store) Search(ctx context.Context, query string) ([]Issue, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, base_path, file_path, start_line, end_line, description, fix, priority, created_at
	FROM issues
	WHERE file_path LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR fix LIKE ? ESCAPE '\'
	ORDER BY priority DESC, created_at DESC;
	`, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query '%s': %w", query, err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var issue Issue
		if err := rows.Scan(&issue.ID, &issue.BasePath, &issue.Path, &issue.StartLine, &issue.EndLine, &issue.Description, &issue.Fix, &issue.Priority, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return issues, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
