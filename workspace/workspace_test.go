package workspace

import (
	"context"
	"testing"

	"github.com/dhamidi/cmdgate"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) (*Workspace, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs), fs
}

func TestOverwriteFile_IsIdempotent(t *testing.T) {
	ws, fs := newTestWorkspace(t)

	for i := 0; i < 2; i++ {
		out, err := ws.OverwriteFile("notes.txt", "X")
		require.NoError(t, err)
		assert.Equal(t, "Content overwritten to 'notes.txt' successfully.", out)
	}

	data, err := afero.ReadFile(fs, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "X", string(data))
}

func TestAppendToFile_Accumulates(t *testing.T) {
	ws, fs := newTestWorkspace(t)

	for i := 0; i < 2; i++ {
		_, err := ws.AppendToFile("notes.txt", "X")
		require.NoError(t, err)
	}

	data, err := afero.ReadFile(fs, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "XX", string(data))
}

func TestCreateFile_WithoutContent(t *testing.T) {
	ws, fs := newTestWorkspace(t)

	out, err := ws.CreateFile("empty.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "File 'empty.txt' created successfully.", out)

	info, err := fs.Stat("empty.txt")
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCreateFile_DecodesEscapes(t *testing.T) {
	ws, fs := newTestWorkspace(t)

	_, err := ws.CreateFile("hello.py", `print("hi")\nprint("caf\u00e9")\n`)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "hello.py")
	require.NoError(t, err)
	assert.Equal(t, "print(\"hi\")\nprint(\"café\")\n", string(data))
}

func TestReadFile(t *testing.T) {
	ws, fs := newTestWorkspace(t)
	require.NoError(t, afero.WriteFile(fs, "a.txt", []byte("hello"), 0644))

	out, err := ws.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Content of a.txt:\n```\nhello\n```", out)

	_, err = ws.ReadFile("missing.txt")
	assert.Error(t, err)
}

func TestUnescape(t *testing.T) {
	testCases := map[string]string{
		"plain":               "plain",
		`line\nbreak`:         "line\nbreak",
		`tab\there`:           "tab\there",
		`back\\slash`:         `back\slash`,
		`\u00e9t\u00e9`:       "été",
		`C:\path\dir`:         `C:\path\dir`,
		`trailing\`:           `trailing\`,
		`quote \"inside\"`:    `quote "inside"`,
		"already\nreal lines": "already\nreal lines",
	}

	for input, want := range testCases {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, Unescape(input))
		})
	}
}

func TestRegister_DispatchesThroughCatalogue(t *testing.T) {
	ws, fs := newTestWorkspace(t)
	registry, err := cmdgate.Default()
	require.NoError(t, err)

	natives := ws.Register(cmdgate.NewNatives()).
		Register("analyze_codebase", func(context.Context, cmdgate.Args) (string, error) { return "", nil })
	dispatcher, err := cmdgate.NewDispatcher(registry, natives)
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), "create_file", map[string]string{"filename": "out.txt"})
	require.NoError(t, err)
	assert.Equal(t, "File 'out.txt' created successfully.", result.Output)

	_, err = dispatcher.Dispatch(context.Background(), "append_to_file", map[string]string{"filename": "out.txt", "content": "abc"})
	require.NoError(t, err)

	result, err = dispatcher.Dispatch(context.Background(), "read_file", map[string]string{"filename": "out.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Content of out.txt:\n```\nabc\n```", result.Output)

	_, err = dispatcher.Dispatch(context.Background(), "read_file", map[string]string{"filename": "../etc/passwd"})
	assert.ErrorIs(t, err, cmdgate.ErrValidationFailed)

	exists, err := afero.Exists(fs, "out.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpen_ConfinesToDirectory(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(dir)
	require.NoError(t, err)

	_, err = ws.CreateFile("inside.txt", "ok")
	require.NoError(t, err)

	_, err = ws.ReadFile("../outside.txt")
	assert.Error(t, err)
}
