// Package workspace implements the native file routines that the command
// catalogue binds to: create, append, overwrite and read. All of them work
// inside a single workspace directory.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhamidi/cmdgate"
	"github.com/spf13/afero"
)

// Workspace is a directory the dispatcher may read and write.
type Workspace struct {
	fs afero.Fs
}

// New wraps an existing filesystem, typically an afero.MemMapFs in tests.
func New(fs afero.Fs) *Workspace {
	return &Workspace{fs: fs}
}

// Open creates dir if needed and confines all file access to it.
func Open(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("workspace: creating %s: %w", dir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// DefaultDir is ~/chatbot_workspace.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatbot_workspace"
	}
	return filepath.Join(home, "chatbot_workspace")
}

func (w *Workspace) Fs() afero.Fs { return w.fs }

// CreateFile creates filename, replacing any existing file. content may be
// empty.
func (w *Workspace) CreateFile(filename, content string) (string, error) {
	if err := afero.WriteFile(w.fs, filename, []byte(Unescape(content)), 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	return fmt.Sprintf("File '%s' created successfully.", filename), nil
}

func (w *Workspace) AppendToFile(filename, content string) (string, error) {
	f, err := w.fs.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("appending to file: %w", err)
	}
	if _, err := f.WriteString(Unescape(content)); err != nil {
		f.Close()
		return "", fmt.Errorf("appending to file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("appending to file: %w", err)
	}
	return fmt.Sprintf("Content appended to '%s' successfully.", filename), nil
}

func (w *Workspace) OverwriteFile(filename, content string) (string, error) {
	if err := afero.WriteFile(w.fs, filename, []byte(Unescape(content)), 0644); err != nil {
		return "", fmt.Errorf("overwriting file: %w", err)
	}
	return fmt.Sprintf("Content overwritten to '%s' successfully.", filename), nil
}

func (w *Workspace) ReadFile(filename string) (string, error) {
	data, err := afero.ReadFile(w.fs, filename)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return fmt.Sprintf("Content of %s:\n```\n%s\n```", filename, data), nil
}

// Register binds the file routines under the identifiers the catalogue
// uses.
func (w *Workspace) Register(natives cmdgate.Natives) cmdgate.Natives {
	return natives.
		Register("create_file", func(_ context.Context, args cmdgate.Args) (string, error) {
			return w.CreateFile(args.Get("filename"), args.Get("content"))
		}).
		Register("append_to_file", func(_ context.Context, args cmdgate.Args) (string, error) {
			return w.AppendToFile(args.Get("filename"), args.Get("content"))
		}).
		Register("overwrite_file", func(_ context.Context, args cmdgate.Args) (string, error) {
			return w.OverwriteFile(args.Get("filename"), args.Get("content"))
		}).
		Register("read_file", func(_ context.Context, args cmdgate.Args) (string, error) {
			return w.ReadFile(args.Get("filename"))
		})
}

// Unescape decodes backslash escapes such as \n, \t, \\ and \u00e9 the way
// models tend to send them inside file content. Sequences that are not
// valid escapes are kept as written.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		if s[0] != '\\' {
			i := strings.IndexByte(s, '\\')
			if i < 0 {
				i = len(s)
			}
			b.WriteString(s[:i])
			s = s[i:]
			continue
		}

		if len(s) > 1 && (s[1] == '"' || s[1] == '\'') {
			b.WriteByte(s[1])
			s = s[2:]
			continue
		}
		r, multibyte, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			b.WriteByte('\\')
			s = s[1:]
			continue
		}
		if multibyte || r >= 0x80 {
			b.WriteRune(r)
		} else {
			b.WriteByte(byte(r))
		}
		s = tail
	}
	return b.String()
}
