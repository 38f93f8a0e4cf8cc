// Package analysis asks a model to review source files chunk by chunk and
// keeps the issues it reports.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dhamidi/cmdgate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var ErrFileNotFound = errors.New("analysis: file not found")

// DefaultExtensions are the source files a tree analysis looks at.
var DefaultExtensions = []string{".py", ".js", ".cpp", ".go"}

// Analyzer reviews files on fs with a Model.
type Analyzer struct {
	fs         afero.Fs
	model      Model
	store      *Store
	chunkSize  int
	extensions []string
	log        logrus.FieldLogger
}

type Option func(*Analyzer)

// WithStore persists issues and remembers which files of a tree were
// already analyzed.
func WithStore(store *Store) Option {
	return func(a *Analyzer) { a.store = store }
}

func WithChunkSize(size int) Option {
	return func(a *Analyzer) {
		if size > 0 {
			a.chunkSize = size
		}
	}
}

func WithExtensions(extensions ...string) Option {
	return func(a *Analyzer) { a.extensions = extensions }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Analyzer) { a.log = log }
}

func New(fs afero.Fs, model Model, opts ...Option) *Analyzer {
	a := &Analyzer{
		fs:         fs,
		model:      model,
		chunkSize:  DefaultChunkSize,
		extensions: DefaultExtensions,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FileIssues groups the issues of one file.
type FileIssues struct {
	Path   string
	Issues []Issue
}

// Report lists files with issues in the order they were analyzed.
type Report []FileIssues

func (r Report) String() string {
	var lines []string
	for _, file := range r {
		lines = append(lines, fmt.Sprintf("Issues in %s:", file.Path))
		for _, issue := range file.Issues {
			lines = append(lines, "  - "+issue.Description)
			if issue.Fix != "" {
				lines = append(lines, "    Fix: "+issue.Fix)
			}
			lines = append(lines, fmt.Sprintf("    Priority: %d", issue.Priority))
		}
	}
	if len(lines) == 0 {
		return "No issues found."
	}
	return strings.Join(lines, "\n")
}

// AnalyzeFile reviews basePath/filename, whether or not it was analyzed
// before. focus, if set, narrows what the model looks for.
func (a *Analyzer) AnalyzeFile(ctx context.Context, basePath, filename, focus string) (Report, error) {
	path := filepath.Join(basePath, filename)
	info, err := a.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	issues, err := a.analyze(ctx, basePath, path, focus)
	if err != nil || len(issues) == 0 {
		return nil, err
	}
	return Report{{Path: path, Issues: issues}}, nil
}

// AnalyzeTree reviews every source file under basePath that has not been
// analyzed yet. Progress is recorded per file, so an interrupted run
// resumes where it stopped.
func (a *Analyzer) AnalyzeTree(ctx context.Context, basePath, focus string) (Report, error) {
	processed := map[string]bool{}
	if a.store != nil {
		var err error
		if processed, err = a.store.Processed(ctx, basePath); err != nil {
			return nil, err
		}
	}

	var files []string
	err := afero.Walk(a.fs, basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !a.considered(path) || processed[path] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: walking %s: %w", basePath, err)
	}

	var report Report
	for _, path := range files {
		issues, err := a.analyze(ctx, basePath, path, focus)
		if err != nil {
			return report, err
		}
		if len(issues) > 0 {
			report = append(report, FileIssues{Path: path, Issues: issues})
		}
		if a.store != nil {
			if err := a.store.MarkProcessed(ctx, basePath, path); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (a *Analyzer) considered(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range a.extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (a *Analyzer) analyze(ctx context.Context, basePath, path, focus string) ([]Issue, error) {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("analysis: reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		a.log.WithField("file", path).Warn("skipping file that is not valid UTF-8")
		return nil, nil
	}

	chunks := SplitChunks(path, string(data), a.chunkSize)
	a.log.WithFields(logrus.Fields{"file": path, "chunks": len(chunks)}).Debug("analyzing file")

	var issues []Issue
	var failed int
	var lastErr error
	for _, chunk := range chunks {
		text, err := a.model.Analyze(ctx, buildPrompt(chunk, focus))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.log.WithError(err).WithFields(logrus.Fields{"file": path, "lines": fmt.Sprintf("%d-%d", chunk.StartLine, chunk.EndLine)}).Warn("analysis of chunk failed")
			failed++
			lastErr = err
			continue
		}

		found, parseErrs := ParseIssues(chunk, text)
		for _, parseErr := range parseErrs {
			a.log.WithError(parseErr).WithField("file", path).Warn("skipping unreadable issue")
		}
		issues = append(issues, found...)
	}
	if failed > 0 && failed == len(chunks) {
		return nil, fmt.Errorf("analysis: no chunk of %s could be analyzed: %w", path, lastErr)
	}

	if a.store != nil && len(issues) > 0 {
		if err := a.store.SaveIssues(ctx, basePath, issues); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// Run implements the analyze_codebase command.
func (a *Analyzer) Run(ctx context.Context, args cmdgate.Args) (string, error) {
	basePath := args.Get("base_path")
	focus := args.Get("issue")

	var report Report
	var err error
	if filename, ok := args.Lookup("filename"); ok && filename != "" {
		report, err = a.AnalyzeFile(ctx, basePath, filename, focus)
		if errors.Is(err, ErrFileNotFound) {
			return fmt.Sprintf("File not found: %s", filepath.Join(basePath, filename)), nil
		}
	} else {
		report, err = a.AnalyzeTree(ctx, basePath, focus)
	}
	if err != nil {
		return "", err
	}
	return report.String(), nil
}

func (a *Analyzer) Register(natives cmdgate.Natives) cmdgate.Natives {
	return natives.Register("analyze_codebase", a.Run)
}
