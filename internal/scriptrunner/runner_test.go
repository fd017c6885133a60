package scriptrunner

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execbin/internal/task"
)

type logEntry struct {
	level Level
	msg   string
}

// recordingHelper is a task.Helper that keeps every message.
type recordingHelper struct {
	mu      sync.Mutex
	entries []logEntry
}

func (h *recordingHelper) add(l Level, m string) {
	h.mu.Lock()
	h.entries = append(h.entries, logEntry{level: l, msg: m})
	h.mu.Unlock()
}

func (h *recordingHelper) LogDebug(m string)   { h.add(LevelDebug, m) }
func (h *recordingHelper) LogInfo(m string)    { h.add(LevelInfo, m) }
func (h *recordingHelper) LogWarning(m string) { h.add(LevelWarning, m) }
func (h *recordingHelper) LogError(m string)   { h.add(LevelError, m) }
func (h *recordingHelper) TaskName() string    { return "test" }

func (h *recordingHelper) at(l Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.entries {
		if e.level == l {
			out = append(out, e.msg)
		}
	}
	return out
}

func (h *recordingHelper) reset() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	home   string
	helper *recordingHelper
	out    *syncBuffer
	spawns atomic.Int32
	runner *Runner
}

func newFixture(t *testing.T, intervalMs int, script string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		home:   t.TempDir(),
		helper: &recordingHelper{},
		out:    &syncBuffer{},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.home, "bin"), 0o755))

	base := []Option{
		WithHomeDir(func() (string, error) { return f.home, nil }),
		WithOutput(f.out),
		WithSpawner(SpawnerFunc(func(_ string, fn func()) {
			f.spawns.Add(1)
			go fn()
		})),
	}
	f.runner = New(append(base, opts...)...)
	f.runner.Init(f.helper, intervalMs, script)
	f.helper.reset()
	return f
}

func (f *fixture) writeScript(t *testing.T, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(f.home, "bin", name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), mode))
	return path
}

func succeeded() task.ActionResult {
	return task.NewActionResult(task.ScheduledAction{Procedure: PingProcedure}, task.Response{Status: task.StatusSuccess}, nil)
}

func failed(status string) task.ActionResult {
	return task.NewActionResult(task.ScheduledAction{Procedure: PingProcedure}, task.Response{Status: task.StatusGracefulFailure, StatusString: status}, nil)
}

func assertNextAction(t *testing.T, a task.ScheduledAction, interval time.Duration) {
	t.Helper()
	assert.Equal(t, task.KindProcedure, a.Kind)
	assert.Equal(t, interval, a.Delay)
	assert.Equal(t, PingProcedure, a.Procedure)
	assert.Empty(t, a.Params)
	assert.NotNil(t, a.Callback)
}

func TestInitLogsAndSetsInterval(t *testing.T) {
	t.Parallel()

	h := &recordingHelper{}
	r := New()
	r.Init(h, 30000, "nightly.sh")

	assert.Equal(t, 30*time.Second, r.Interval())
	assert.Equal(t, "nightly.sh", r.ScriptName())
	infos := h.at(LevelInfo)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0], "30000/nightly.sh")
}

func TestInitOnlyOnce(t *testing.T) {
	t.Parallel()

	h := &recordingHelper{}
	r := New()
	r.Init(h, 1000, "a.sh")
	r.Init(h, 5000, "b.sh")

	assert.Equal(t, time.Second, r.Interval())
	assert.Equal(t, "a.sh", r.ScriptName())
	assert.Len(t, h.at(LevelInfo), 1)
}

func TestInitializeFromParams(t *testing.T) {
	t.Parallel()

	h := &recordingHelper{}
	r := New()
	require.NoError(t, r.Initialize(h, task.Params{"2500", "job.sh"}))
	assert.Equal(t, 2500*time.Millisecond, r.Interval())
	assert.Equal(t, "job.sh", r.ScriptName())

	var pe *task.ParamError
	require.ErrorAs(t, New().Initialize(h, task.Params{"soon", "job.sh"}), &pe)
	require.ErrorAs(t, New().Initialize(h, task.Params{"10"}), &pe)
}

func TestActionDelayMatchesInterval(t *testing.T) {
	t.Parallel()

	for _, ms := range []int{1, 250, 30000, 120000, 86400000} {
		r := New()
		r.Init(&recordingHelper{}, ms, "x.sh")
		want := time.Duration(ms) * time.Millisecond
		assertNextAction(t, r.GetFirstScheduledAction(), want)
		assertNextAction(t, r.NextAction(), want)
	}
}

func TestCallbackPingFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 500, "marker.sh")
	marker := filepath.Join(f.home, "ran")
	f.writeScript(t, "marker.sh", "touch "+marker, 0o755)

	next := f.runner.Callback(failed("Procedure @Ping was not found"))

	errs := f.helper.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Procedure @Ping was not found")
	assert.Zero(t, f.spawns.Load())
	assert.NoFileExists(t, marker)
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestCallbackMissingScript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 500, "missing.sh")

	next := f.runner.Callback(succeeded())

	path := filepath.Join(f.home, "bin", "missing.sh")
	errs := f.helper.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], path)
	assert.Contains(t, errs[0], "not usable")
	assert.Zero(t, f.spawns.Load())
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestCallbackSuccessQuiet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 500, "ok.sh")
	f.writeScript(t, "ok.sh", "echo hello\necho world\nexit 0", 0o755)

	next := f.runner.Callback(succeeded())

	assert.Empty(t, f.helper.at(LevelError))
	assert.Empty(t, f.helper.at(LevelWarning))
	assert.EqualValues(t, 1, f.spawns.Load())
	assertNextAction(t, next, 500*time.Millisecond)

	// The drain is detached; its output may land after Callback returns.
	require.Eventually(t, func() bool {
		return f.out.String() == "hello\nworld\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCallbackNonZeroExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 500, "seven.sh")
	path := f.writeScript(t, "seven.sh", "exit 7", 0o755)

	next := f.runner.Callback(succeeded())

	errs := f.helper.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], path)
	assert.Contains(t, errs[0], "exit code of 7")
	assert.Empty(t, f.helper.at(LevelWarning))
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestCallbackNotExecutable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 500, "plain.sh")
	f.writeScript(t, "plain.sh", "exit 0", 0o644)

	next := f.runner.Callback(succeeded())

	// sh reports "permission denied" with exit code 126.
	errs := f.helper.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "exit code of 126")
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestExitStatusNamesSignal(t *testing.T) {
	t.Parallel()

	// The shell kills itself, so the direct child dies by signal.
	cmd := exec.Command("sh", "-c", "kill -9 $$")
	require.Error(t, cmd.Run())
	code, sig := exitStatus(cmd.ProcessState)
	assert.Equal(t, -1, code)
	assert.Equal(t, "killed", sig)

	cmd = exec.Command("sh", "-c", "exit 7")
	require.Error(t, cmd.Run())
	code, sig = exitStatus(cmd.ProcessState)
	assert.Equal(t, 7, code)
	assert.Empty(t, sig)
}

// Not parallel: it changes PATH for the process.
func TestCallbackStartFailure(t *testing.T) {
	f := newFixture(t, 500, "ok.sh")
	f.writeScript(t, "ok.sh", "exit 0", 0o755)
	t.Setenv("PATH", filepath.Join(f.home, "nonexistent"))

	next := f.runner.Callback(succeeded())

	errs := f.helper.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "executable file not found")
	assert.Empty(t, f.helper.at(LevelWarning))
	assert.Zero(t, f.spawns.Load())
	assertNextAction(t, next, 500*time.Millisecond)

	// The loop keeps going: the re-armed callback fails the same way.
	f.helper.reset()
	next = next.Callback(succeeded())
	assert.Len(t, f.helper.at(LevelError), 1)
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestCallbackSlowRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var calls atomic.Int32
	clock := func() time.Time {
		if calls.Add(1) == 1 {
			return base
		}
		return base.Add(10*time.Second + 1500*time.Millisecond)
	}

	f := newFixture(t, 500, "slow.sh", WithClock(clock))
	path := f.writeScript(t, "slow.sh", "exit 0", 0o755)

	next := f.runner.Callback(succeeded())

	assert.Empty(t, f.helper.at(LevelError))
	warns := f.helper.at(LevelWarning)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], path)
	assert.Contains(t, warns[0], "took 11500 ms")
	assertNextAction(t, next, 500*time.Millisecond)
}

func TestCallbackHomeDirError(t *testing.T) {
	t.Parallel()

	h := &recordingHelper{}
	var spawns atomic.Int32
	r := New(
		WithHomeDir(func() (string, error) { return "", errors.New("no home for you") }),
		WithSpawner(SpawnerFunc(func(_ string, fn func()) { spawns.Add(1); go fn() })),
	)
	r.Init(h, 100, "x.sh")

	next := r.Callback(succeeded())

	errs := h.at(LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no home for you")
	assert.Zero(t, spawns.Load())
	assertNextAction(t, next, 100*time.Millisecond)
}

func TestRepeatedCyclesSamePattern(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 750, "seven.sh")
	f.writeScript(t, "seven.sh", "exit 7", 0o755)

	var patterns [][]logEntry
	action := f.runner.GetFirstScheduledAction()
	for i := 0; i < 3; i++ {
		action = action.Callback(succeeded())
		assertNextAction(t, action, 750*time.Millisecond)

		f.helper.mu.Lock()
		patterns = append(patterns, append([]logEntry(nil), f.helper.entries...))
		f.helper.mu.Unlock()
		f.helper.reset()
	}
	require.Len(t, patterns[0], 1)
	assert.Equal(t, patterns[0], patterns[1])
	assert.Equal(t, patterns[1], patterns[2])
}

func TestFallbackConsoleMessenger(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	home := t.TempDir()
	r := New(
		WithMessenger(ConsoleMessenger(&buf)),
		WithHomeDir(func() (string, error) { return home, nil }),
	)
	r.Init(nil, 1000, "gone.sh")
	r.Callback(failed("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], ":execbin: started with delay/execname of 1000/gone.sh"))
	assert.True(t, strings.HasSuffix(lines[1], ":execbin: boom"))
}
