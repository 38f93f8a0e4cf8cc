package cmdgate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Result describes one dispatch call. For native commands Output holds the
// routine's return value; for process commands ExitCode, Stdout and Stderr
// hold what the process produced.
type Result struct {
	Command   string            `json:"command"`
	Args      map[string]string `json:"args,omitempty"`
	Argv      []string          `json:"argv,omitempty"`
	Output    string            `json:"output,omitempty"`
	ExitCode  int               `json:"exit_code"`
	Stdout    string            `json:"stdout,omitempty"`
	Stderr    string            `json:"stderr,omitempty"`
	Succeeded bool              `json:"succeeded"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Recorder receives every finished dispatch, successful or not.
type Recorder interface {
	Record(ctx context.Context, result *Result, err error) error
}

// Dispatcher validates requests against a Registry and executes them. It
// holds no per-call state and is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	natives  Natives
	runner   ProcessRunner
	workDir  string
	timeout  time.Duration
	slots    *semaphore.Weighted
	lookPath func(string) (string, error)
	strict   bool
	recorder Recorder
	metrics  *Metrics
	log      logrus.FieldLogger

	resolved sync.Map // executable name -> resolution
}

type resolution struct {
	path string
	err  error
}

type Option func(*Dispatcher)

// WithWorkDir sets the working directory of spawned processes.
func WithWorkDir(dir string) Option {
	return func(d *Dispatcher) { d.workDir = dir }
}

// WithTimeout bounds every process invocation; the process is killed when
// it runs longer. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithMaxConcurrent limits how many processes run at once across all
// dispatch calls.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithRunner(runner ProcessRunner) Option {
	return func(d *Dispatcher) { d.runner = runner }
}

// WithLookPath replaces exec.LookPath for resolving executables.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(d *Dispatcher) { d.lookPath = lookPath }
}

// WithStrictExecutables resolves every executable when the dispatcher is
// created instead of on first use.
func WithStrictExecutables() Option {
	return func(d *Dispatcher) { d.strict = true }
}

func WithRecorder(recorder Recorder) Option {
	return func(d *Dispatcher) { d.recorder = recorder }
}

func WithMetrics(metrics *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher binds registry to natives. Every native binding in the
// registry must have a routine in natives.
func NewDispatcher(registry *Registry, natives Natives, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		registry: registry,
		natives:  natives,
		runner:   &ExecRunner{},
		timeout:  60 * time.Second,
		slots:    semaphore.NewWeighted(4),
		lookPath: exec.LookPath,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, cmd := range registry.Commands() {
		switch b := cmd.Binding.(type) {
		case NativeBinding:
			if _, ok := natives[b.Function]; !ok {
				return nil, malformed(cmd.Name, "no native routine registered as %q", b.Function)
			}
		case ProcessBinding:
			if !d.strict {
				continue
			}
			if _, err := d.resolve(b.Executable); err != nil {
				return nil, &Error{Kind: ErrMalformedCatalogue, Command: cmd.Name, Message: fmt.Sprintf("resolving %s", b.Executable), Err: err}
			}
		}
	}

	return d, nil
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs the command called name with the raw arguments. The
// returned Result is never nil; on failure it shows how far the call got,
// and for a process that exited non-zero it carries the exit code and the
// captured output. The error, if any, is always an *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs map[string]string) (*Result, error) {
	result := &Result{Command: name, StartedAt: time.Now()}
	_, known := d.registry.Lookup(name)

	err := d.dispatch(ctx, result, rawArgs)

	result.Duration = time.Since(result.StartedAt)
	result.Succeeded = err == nil
	d.metrics.observe(name, known, err, result.Duration)
	d.logResult(result, err)
	if d.recorder != nil {
		if recErr := d.recorder.Record(ctx, result, err); recErr != nil {
			d.log.WithError(recErr).WithField("command", name).Warn("could not record dispatch")
		}
	}
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, result *Result, rawArgs map[string]string) error {
	cmd, ok := d.registry.Lookup(result.Command)
	if !ok {
		return &Error{Kind: ErrUnknownCommand, Command: result.Command}
	}

	args := make(Args, 0, len(cmd.Parameters))
	for _, p := range cmd.Parameters {
		raw, present := rawArgs[p.Name]
		arg, err := Validate(p, raw, present)
		if err != nil {
			var de *Error
			if errors.As(err, &de) {
				de.Command = cmd.Name
			}
			return err
		}
		args = append(args, arg)
	}

	if extra := undeclared(cmd, rawArgs); len(extra) > 0 {
		e := &Error{Kind: ErrUnexpectedParameter, Command: cmd.Name, Parameter: extra[0]}
		if len(extra) > 1 {
			e.Message = "also undeclared: " + strings.Join(extra[1:], ", ")
		}
		return e
	}
	result.Args = args.Map()

	switch b := cmd.Binding.(type) {
	case NativeBinding:
		return d.runNative(ctx, cmd, b, args, result)
	case ProcessBinding:
		return d.runProcess(ctx, cmd, b, args, result)
	}
	return malformed(cmd.Name, "unsupported binding %T", cmd.Binding)
}

func undeclared(cmd *CommandDescriptor, rawArgs map[string]string) []string {
	var extra []string
	for name := range rawArgs {
		if _, ok := cmd.Parameter(name); !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}

func (d *Dispatcher) runNative(ctx context.Context, cmd *CommandDescriptor, b NativeBinding, args Args, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("command", cmd.Name).Errorf("native routine panicked: %v\n%s", r, debug.Stack())
			err = &Error{Kind: ErrExecutionFailed, Command: cmd.Name, Message: fmt.Sprintf("native routine panicked: %v", r)}
		}
	}()

	out, err := d.natives[b.Function](ctx, args)
	result.Output = out
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		// Routines may return shared error values; never write to them.
		e := *de
		if e.Command == "" {
			e.Command = cmd.Name
		}
		return &e
	}
	return &Error{Kind: ErrExecutionFailed, Command: cmd.Name, Err: err}
}

func (d *Dispatcher) runProcess(ctx context.Context, cmd *CommandDescriptor, b ProcessBinding, args Args, result *Result) error {
	if _, err := d.resolve(b.Executable); err != nil {
		return &Error{Kind: ErrSpawnFailed, Command: cmd.Name, Message: fmt.Sprintf("resolving %s", b.Executable), Err: err}
	}

	argv := append([]string{b.Executable}, b.Prefix...)
	for _, a := range args {
		if a.Present {
			argv = append(argv, a.Value)
		}
	}
	result.Argv = argv

	if err := d.slots.Acquire(ctx, 1); err != nil {
		return &Error{Kind: ErrExecutionFailed, Command: cmd.Name, Message: "waiting for a process slot", Err: err}
	}
	defer d.slots.Release(1)

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	out, err := d.runner.Run(runCtx, d.workDir, argv)
	result.ExitCode = out.ExitCode
	result.Stdout = out.Stdout
	result.Stderr = out.Stderr

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: ErrExecutionFailed, Command: cmd.Name, Message: "timed out and was killed", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: ErrExecutionFailed, Command: cmd.Name, Message: "canceled", Err: err}
	case err != nil:
		return &Error{Kind: ErrSpawnFailed, Command: cmd.Name, Err: err}
	case out.ExitCode != 0:
		return &Error{Kind: ErrExecutionFailed, Command: cmd.Name, ExitCode: out.ExitCode, Message: strings.TrimSpace(out.Stderr)}
	}
	return nil
}

func (d *Dispatcher) resolve(executable string) (string, error) {
	if r, ok := d.resolved.Load(executable); ok {
		res := r.(resolution)
		return res.path, res.err
	}
	path, err := d.lookPath(executable)
	d.resolved.Store(executable, resolution{path: path, err: err})
	return path, err
}

func (d *Dispatcher) logResult(result *Result, err error) {
	entry := d.log.WithFields(logrus.Fields{
		"command":  result.Command,
		"duration": result.Duration,
	})
	if len(result.Argv) > 0 {
		entry = entry.WithFields(logrus.Fields{
			"argv":      shellescape.QuoteCommand(result.Argv),
			"exit_code": result.ExitCode,
		})
	}
	if err != nil {
		entry.WithField("kind", KindName(err)).WithError(err).Warn("dispatch failed")
		return
	}
	entry.Info("dispatched")
}
