package scriptrunner

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"execbin/internal/task"
	logx "execbin/pkg/logx"
)

const (
	// ClassName is the name the runner is registered under in the host.
	ClassName = "ExecuteBinCommand"

	// PingProcedure is the no-op call whose completion drives each cycle.
	PingProcedure = "@Ping"

	// DefaultInterval applies until Init is called.
	DefaultInterval = 120 * time.Second

	// SlowRunThreshold is purely observational: runs longer than this are
	// reported, never interrupted.
	SlowRunThreshold = 10 * time.Second

	binDir    = "bin"
	logPrefix = "execbin: "
)

// Runner executes $HOME/bin/<script> every interval.
//
// Configuration is set once by Init and never changes afterwards.
type Runner struct {
	initOnce   sync.Once
	interval   time.Duration
	scriptName string
	msg        Messenger

	homeDir func() (string, error)
	now     func() time.Time
	out     io.Writer
	spawn   Spawner
}

type Option func(*Runner)

// WithHomeDir overrides how the home directory is found (default os.UserHomeDir).
func WithHomeDir(fn func() (string, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.homeDir = fn
		}
	}
}

// WithClock overrides the clock used to time runs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOutput sets the sink script stdout lines are forwarded to (default stdout).
// It must tolerate writes from several goroutines.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.out = w
		}
	}
}

// WithSpawner sets who owns the stdout drain goroutines.
func WithSpawner(s Spawner) Option {
	return func(r *Runner) {
		if s != nil {
			r.spawn = s
		}
	}
}

// WithMessenger replaces the messenger used when Init gets no helper.
func WithMessenger(m Messenger) Option {
	return func(r *Runner) {
		if m != nil {
			r.msg = m
		}
	}
}

// New creates a runner. The host calls it with no arguments; options are for
// embedding and tests.
func New(opts ...Option) *Runner {
	r := &Runner{
		interval: DefaultInterval,
		homeDir:  os.UserHomeDir,
		now:      time.Now,
		out:      logx.Stdout(),
		spawn:    goSpawner,
	}
	for _, o := range opts {
		o(r)
	}
	if r.msg == nil {
		r.msg = ConsoleMessenger(logx.Stdout())
	}
	return r
}

// Factory returns a task.Factory building runners with opts.
func Factory(opts ...Option) task.Factory {
	return func() task.ActionScheduler { return New(opts...) }
}

// Initialize takes (intervalMs, scriptName) from the task definition.
func (r *Runner) Initialize(h task.Helper, params task.Params) error {
	intervalMs, err := params.Int(0)
	if err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	scriptName, err := params.String(1)
	if err != nil {
		return fmt.Errorf("script name: %w", err)
	}
	r.Init(h, intervalMs, scriptName)
	return nil
}

// Init stores the configuration. Values are not validated; bad ones show up
// later as failed runs. Only the first call has an effect.
func (r *Runner) Init(h task.Helper, intervalMs int, scriptName string) {
	r.initOnce.Do(func() {
		r.interval = time.Duration(intervalMs) * time.Millisecond
		r.scriptName = scriptName
		if h != nil {
			r.msg = HelperMessenger(h)
		}
		r.msg.Msg(LevelInfo, fmt.Sprintf("%sstarted with delay/execname of %d/%s", logPrefix, intervalMs, scriptName))
	})
}

func (r *Runner) Interval() time.Duration { return r.interval }
func (r *Runner) ScriptName() string      { return r.scriptName }

// GetFirstScheduledAction implements task.ActionScheduler.
func (r *Runner) GetFirstScheduledAction() task.ScheduledAction { return r.NextAction() }

// NextAction is the only way the cycle is re-armed: a ping after the fixed
// interval, completing into Callback.
func (r *Runner) NextAction() task.ScheduledAction {
	return task.ProcedureCall(r.interval, r.Callback, PingProcedure)
}

// Callback runs when the ping completes. Whatever happens, it returns NextAction.
func (r *Runner) Callback(ar task.ActionResult) task.ScheduledAction {
	if ar.Succeeded() {
		r.runCycle()
	} else {
		r.msg.Msg(LevelError, logPrefix+ar.Response().StatusString)
	}
	return r.NextAction()
}
