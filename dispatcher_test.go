package cmdgate

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	dirs  []string
	run   func(ctx context.Context, argv []string) (ProcessOutput, error)
}

func (r *fakeRunner) Run(ctx context.Context, dir string, argv []string) (ProcessOutput, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), argv...))
	r.dirs = append(r.dirs, dir)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, argv)
	}
	return ProcessOutput{Stdout: strings.Join(argv, " ") + "\n"}, nil
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type fakeRecorder struct {
	results []*Result
	errs    []error
}

func (r *fakeRecorder) Record(ctx context.Context, result *Result, err error) error {
	r.results = append(r.results, result)
	r.errs = append(r.errs, err)
	return nil
}

func foundEverywhere(name string) (string, error) { return "/usr/bin/" + name, nil }

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

// testNatives records what each native routine received.
func testNatives(received *[]Args) Natives {
	record := func(name string) NativeFunc {
		return func(ctx context.Context, args Args) (string, error) {
			*received = append(*received, args)
			return name + " ok", nil
		}
	}
	return NewNatives().
		Register("create_file", record("create_file")).
		Register("append_to_file", record("append_to_file")).
		Register("overwrite_file", record("overwrite_file")).
		Register("read_file", record("read_file")).
		Register("analyze_codebase", record("analyze_codebase"))
}

func newTestDispatcher(t *testing.T, runner ProcessRunner, opts ...Option) (*Dispatcher, *[]Args) {
	t.Helper()
	registry, err := Default()
	require.NoError(t, err)

	received := &[]Args{}
	opts = append([]Option{WithRunner(runner), WithLookPath(foundEverywhere), WithLogger(quietLogger())}, opts...)
	d, err := NewDispatcher(registry, testNatives(received), opts...)
	require.NoError(t, err)
	return d, received
}

func TestDispatch_NativeCommand(t *testing.T) {
	runner := &fakeRunner{}
	d, received := newTestDispatcher(t, runner)

	result, err := d.Dispatch(context.Background(), "create_file", map[string]string{"filename": "notes.txt", "content": "hello"})
	require.NoError(t, err)

	assert.Equal(t, "create_file ok", result.Output)
	assert.True(t, result.Succeeded)
	assert.Empty(t, result.Argv)
	assert.Equal(t, map[string]string{"filename": "notes.txt", "content": "hello"}, result.Args)
	require.Len(t, *received, 1)
	assert.Equal(t, Args{
		{Name: "filename", Value: "notes.txt", Present: true},
		{Name: "content", Value: "hello", Present: true},
	}, (*received)[0])
	assert.Empty(t, runner.Calls())
}

func TestDispatch_OptionalParameterAbsent(t *testing.T) {
	d, received := newTestDispatcher(t, &fakeRunner{})

	_, err := d.Dispatch(context.Background(), "create_file", map[string]string{"filename": "empty.txt"})
	require.NoError(t, err)

	require.Len(t, *received, 1)
	value, present := (*received)[0].Lookup("content")
	assert.False(t, present)
	assert.Equal(t, "", value)
}

func TestDispatch_PathTraversalRejected(t *testing.T) {
	d, received := newTestDispatcher(t, &fakeRunner{})

	result, err := d.Dispatch(context.Background(), "read_file", map[string]string{"filename": "../etc/passwd"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "read_file", de.Command)
	assert.Equal(t, "filename", de.Parameter)
	assert.Equal(t, `^[a-zA-Z0-9_\.\-]+$`, de.Pattern)

	require.NotNil(t, result)
	assert.False(t, result.Succeeded)
	assert.Empty(t, *received)
}

func TestDispatch_ProcessCommand(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, runner, WithWorkDir("/srv/workspace"))

	result, err := d.Dispatch(context.Background(), "run_script", map[string]string{"scriptname": "build.sh"})
	require.NoError(t, err)

	assert.Equal(t, []string{"bash", "build.sh"}, result.Argv)
	assert.Equal(t, "bash build.sh\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, [][]string{{"bash", "build.sh"}}, runner.Calls())
	assert.Equal(t, []string{"/srv/workspace"}, runner.dirs)
}

func TestDispatch_PrefixArguments(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, runner)

	_, err := d.Dispatch(context.Background(), "create_directory", map[string]string{"directory_name": "src/pkg"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"mkdir", "-p", "src/pkg"}}, runner.Calls())
}

func TestDispatch_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, argv []string) (ProcessOutput, error) {
		return ProcessOutput{ExitCode: 3, Stdout: "partial\n", Stderr: "line 4: oops\n"}, nil
	}}
	d, _ := newTestDispatcher(t, runner)

	result, err := d.Dispatch(context.Background(), "run_script", map[string]string{"scriptname": "build.sh"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailed)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.ExitCode)
	assert.Equal(t, "line 4: oops", de.Message)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "partial\n", result.Stdout)
	assert.Equal(t, "line 4: oops\n", result.Stderr)
	assert.False(t, result.Succeeded)
}

func TestDispatch_WrongExtensionNeverSpawns(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, runner)

	_, err := d.Dispatch(context.Background(), "run_script", map[string]string{"scriptname": "build.py"})
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Empty(t, runner.Calls())
}

func TestDispatch_MetacharactersStayOneArgument(t *testing.T) {
	registry, err := Load([]byte(`
commands:
  echo:
    command: echo
    parameters:
      - name: text
        validation: '.*'
`))
	require.NoError(t, err)
	runner := &fakeRunner{}
	d, err := NewDispatcher(registry, NewNatives(), WithRunner(runner), WithLookPath(foundEverywhere), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "echo", map[string]string{"text": "a; rm -rf / && $(whoami) | cat"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"echo", "a; rm -rf / && $(whoami) | cat"}}, runner.Calls())
}

func TestDispatch_UnknownCommand(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, runner)

	result, err := d.Dispatch(context.Background(), "format_disk", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "UnknownCommand", KindName(err))
	require.NotNil(t, result)
	assert.Equal(t, "format_disk", result.Command)
	assert.Empty(t, runner.Calls())
}

func TestDispatch_MissingParameter(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeRunner{})

	_, err := d.Dispatch(context.Background(), "append_to_file", map[string]string{"filename": "a.txt"})
	assert.ErrorIs(t, err, ErrMissingParameter)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "content", de.Parameter)
}

func TestDispatch_UnexpectedParameter(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, runner)

	_, err := d.Dispatch(context.Background(), "list_directory", map[string]string{"directory": ".", "recursive": "yes", "all": "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedParameter)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "all", de.Parameter)
	assert.Contains(t, de.Message, "recursive")
	assert.Empty(t, runner.Calls())
}

func TestDispatch_DeclaredParametersCheckedFirst(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeRunner{})

	_, err := d.Dispatch(context.Background(), "list_directory", map[string]string{"directory": "../..", "extra": "x"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestDispatch_Timeout(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, argv []string) (ProcessOutput, error) {
		<-ctx.Done()
		return ProcessOutput{ExitCode: -1, Stdout: "started\n"}, ctx.Err()
	}}
	d, _ := newTestDispatcher(t, runner, WithTimeout(20*time.Millisecond))

	start := time.Now()
	result, err := d.Dispatch(context.Background(), "run_script", map[string]string{"scriptname": "loop.sh"})
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, time.Since(start) < 5*time.Second)
	assert.Equal(t, "started\n", result.Stdout)
}

func TestDispatch_SpawnFailure(t *testing.T) {
	runner := &fakeRunner{}
	missing := func(name string) (string, error) {
		if name == "python3" {
			return "", exec.ErrNotFound
		}
		return "/usr/bin/" + name, nil
	}
	d, _ := newTestDispatcher(t, runner, WithLookPath(missing))

	_, err := d.Dispatch(context.Background(), "run_python_script", map[string]string{"scriptname": "report.py"})
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Empty(t, runner.Calls())

	_, err = d.Dispatch(context.Background(), "run_script", map[string]string{"scriptname": "build.sh"})
	assert.NoError(t, err)
}

func TestDispatch_ExecutablesResolvedOnce(t *testing.T) {
	var lookups atomic.Int32
	lookPath := func(name string) (string, error) {
		lookups.Add(1)
		return "/bin/" + name, nil
	}
	d, _ := newTestDispatcher(t, &fakeRunner{}, WithLookPath(lookPath))

	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), "list_directory", map[string]string{"directory": "."})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), lookups.Load())
}

func TestNewDispatcher_MissingNative(t *testing.T) {
	registry, err := Default()
	require.NoError(t, err)

	natives := NewNatives().Register("create_file", func(ctx context.Context, args Args) (string, error) { return "", nil })
	_, err = NewDispatcher(registry, natives, WithLookPath(foundEverywhere))
	assert.ErrorIs(t, err, ErrMalformedCatalogue)
}

func TestNewDispatcher_StrictExecutables(t *testing.T) {
	registry, err := Default()
	require.NoError(t, err)
	var received []Args
	noRm := func(name string) (string, error) {
		if name == "rm" {
			return "", exec.ErrNotFound
		}
		return "/bin/" + name, nil
	}

	_, err = NewDispatcher(registry, testNatives(&received), WithLookPath(noRm), WithStrictExecutables())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedCatalogue)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "delete_file", de.Command)

	_, err = NewDispatcher(registry, testNatives(&received), WithLookPath(noRm))
	assert.NoError(t, err)
}

func TestDispatch_NativeErrors(t *testing.T) {
	registry, err := Load([]byte(`
commands:
  fail:
    function: fail
  reject:
    function: reject
`))
	require.NoError(t, err)
	natives := NewNatives().
		Register("fail", func(ctx context.Context, args Args) (string, error) {
			return "", errors.New("disk full")
		}).
		Register("reject", func(ctx context.Context, args Args) (string, error) {
			return "", &Error{Kind: ErrValidationFailed, Parameter: "filename", Message: "is a directory"}
		})
	d, err := NewDispatcher(registry, natives, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "disk full")

	_, err = d.Dispatch(context.Background(), "reject", nil)
	assert.ErrorIs(t, err, ErrValidationFailed)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "reject", de.Command)
}

func TestDispatch_ConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	runner := &fakeRunner{run: func(ctx context.Context, argv []string) (ProcessOutput, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return ProcessOutput{}, nil
	}}
	d, _ := newTestDispatcher(t, runner, WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), "list_directory", map[string]string{"directory": "."})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, runner.Calls(), 8)
}

func TestDispatch_RecordsEveryCall(t *testing.T) {
	recorder := &fakeRecorder{}
	d, _ := newTestDispatcher(t, &fakeRunner{}, WithRecorder(recorder))

	_, _ = d.Dispatch(context.Background(), "read_file", map[string]string{"filename": "a.txt"})
	_, _ = d.Dispatch(context.Background(), "nope", nil)

	require.Len(t, recorder.results, 2)
	assert.True(t, recorder.results[0].Succeeded)
	assert.NoError(t, recorder.errs[0])
	assert.Equal(t, "nope", recorder.results[1].Command)
	assert.ErrorIs(t, recorder.errs[1], ErrUnknownCommand)
}

func TestDispatch_Metrics(t *testing.T) {
	metrics := NewMetrics(nil)
	d, _ := newTestDispatcher(t, &fakeRunner{}, WithMetrics(metrics))

	_, _ = d.Dispatch(context.Background(), "read_file", map[string]string{"filename": "a.txt"})
	_, _ = d.Dispatch(context.Background(), "read_file", map[string]string{"filename": "../a.txt"})
	_, _ = d.Dispatch(context.Background(), "made_up_1", nil)
	_, _ = d.Dispatch(context.Background(), "made_up_2", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("read_file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("read_file", "ValidationFailed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.dispatches.WithLabelValues("unknown", "UnknownCommand")))
}

func TestDispatch_LogsFailures(t *testing.T) {
	log, hook := test.NewNullLogger()
	d, _ := newTestDispatcher(t, &fakeRunner{}, WithLogger(log))

	_, _ = d.Dispatch(context.Background(), "read_file", map[string]string{"filename": "../a"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "ValidationFailed", entry.Data["kind"])
	assert.Equal(t, "read_file", entry.Data["command"])
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runner := &ExecRunner{}

	out, err := runner.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo out; echo err >&2; exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, out.ExitCode)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = runner.Run(ctx, "", []string{"sh", "-c", "exec sleep 5"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = runner.Run(context.Background(), "", []string{"/nonexistent/binary"})
	assert.Error(t, err)
}

func TestDispatch_NativePanic(t *testing.T) {
	registry, err := Load([]byte(`
commands:
  boom:
    function: boom
  ping:
    function: ping
`))
	require.NoError(t, err)
	natives := NewNatives().
		Register("boom", func(ctx context.Context, args Args) (string, error) {
			var counts map[string]int
			counts["x"]++
			return "", nil
		}).
		Register("ping", func(ctx context.Context, args Args) (string, error) {
			return "pong", nil
		})
	recorder := &fakeRecorder{}
	d, err := NewDispatcher(registry, natives, WithLogger(quietLogger()), WithRecorder(recorder))
	require.NoError(t, err)

	var result *Result
	require.NotPanics(t, func() {
		result, err = d.Dispatch(context.Background(), "boom", nil)
	})
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "panicked")
	require.NotNil(t, result)
	assert.False(t, result.Succeeded)
	require.Len(t, recorder.errs, 1)
	assert.ErrorIs(t, recorder.errs[0], ErrExecutionFailed)

	result, err = d.Dispatch(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Output)
}

func TestDispatch_NativeErrorValueNotModified(t *testing.T) {
	shared := &Error{Kind: ErrValidationFailed, Parameter: "filename"}
	registry, err := Load([]byte(`
commands:
  first:
    function: reject
  second:
    function: reject
`))
	require.NoError(t, err)
	natives := NewNatives().Register("reject", func(ctx context.Context, args Args) (string, error) {
		return "", shared
	})
	d, err := NewDispatcher(registry, natives, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "first", nil)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "first", de.Command)

	_, err = d.Dispatch(context.Background(), "second", nil)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "second", de.Command)

	assert.Equal(t, "", shared.Command)
}
