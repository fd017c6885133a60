package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execbin/internal/eventbus"
	"execbin/internal/scriptrunner"
	"execbin/internal/task"
	logx "execbin/pkg/logx"
)

type fixedScheduler struct{ first task.ScheduledAction }

func (s fixedScheduler) GetFirstScheduledAction() task.ScheduledAction { return s.first }

type failingInit struct{ fixedScheduler }

func (failingInit) Initialize(task.Helper, task.Params) error { return errors.New("bad params") }

// recorder collects callback results and re-arms the same action shape.
type recorder struct {
	mu      sync.Mutex
	results []task.ActionResult
	calls   atomic.Int32
}

func (r *recorder) add(res task.ActionResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.calls.Add(1)
}

func (r *recorder) snapshot() []task.ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.ActionResult(nil), r.results...)
}

// procedureLoop returns a factory for a scheduler that calls proc every delay.
func (r *recorder) procedureLoop(delay time.Duration, proc string) task.Factory {
	var cb task.Callback
	cb = func(res task.ActionResult) task.ScheduledAction {
		r.add(res)
		return task.ProcedureCall(delay, cb, proc)
	}
	return func() task.ActionScheduler {
		return fixedScheduler{first: task.ProcedureCall(delay, cb, proc)}
	}
}

func newTestHost(t *testing.T, reg *Registry, bus eventbus.Bus) *Host {
	t.Helper()
	h := New(reg, Options{Logger: logx.Nop(), Bus: bus})
	h.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return h
}

func TestPingCycles(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("pinger", rec.procedureLoop(5*time.Millisecond, PingProcedure)))
	h := newTestHost(t, reg, nil)

	info, err := h.CreateTask(context.Background(), Definition{Name: "p", Class: "pinger"})
	require.NoError(t, err)
	assert.Equal(t, "procedure", info.Pending)

	require.Eventually(t, func() bool { return rec.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	for _, res := range rec.snapshot() {
		assert.True(t, res.Succeeded())
		assert.Equal(t, PingProcedure, res.Procedure())
		assert.NoError(t, res.Err())
	}

	got, ok := h.Task("p")
	require.True(t, ok)
	assert.GreaterOrEqual(t, got.Cycles, uint64(2))
}

func TestUnknownProcedureIsGracefulFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("bad", rec.procedureLoop(5*time.Millisecond, "@Nope")))
	h := newTestHost(t, reg, nil)

	_, err := h.CreateTask(context.Background(), Definition{Name: "b", Class: "bad"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.calls.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	res := rec.snapshot()[0]
	assert.Equal(t, task.StatusGracefulFailure, res.Response().Status)
	assert.Contains(t, res.Response().StatusString, "@Nope")
	_, ok := h.Task("b")
	assert.True(t, ok, "a failed procedure does not end the task")
}

func TestDropTaskStopsCycles(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("pinger", rec.procedureLoop(5*time.Millisecond, PingProcedure)))
	h := newTestHost(t, reg, nil)

	_, err := h.CreateTask(context.Background(), Definition{Name: "p", Class: "pinger"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)

	require.True(t, h.DropTask("p"))
	assert.False(t, h.DropTask("p"))
	n := rec.calls.Load()
	time.Sleep(100 * time.Millisecond)
	// At most the in-flight action completes.
	assert.LessOrEqual(t, rec.calls.Load(), n+1)
	assert.Empty(t, h.Tasks())
}

func TestExitDropsTask(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	reg := NewRegistry()
	require.NoError(t, reg.Register("once", func() task.ActionScheduler {
		return fixedScheduler{first: task.CallbackOnly(time.Millisecond, func(task.ActionResult) task.ScheduledAction {
			return task.Exit("done")
		})}
	}))
	h := newTestHost(t, reg, bus)

	info, err := h.CreateTask(context.Background(), Definition{Name: "o", Class: "once"})
	require.NoError(t, err)
	_, err = uuid.Parse(info.Instance)
	require.NoError(t, err)

	var created, dropped TaskEvent
	timeout := time.After(5 * time.Second)
	for dropped.Task == "" {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.TaskCreated:
				created = ev.Data.(TaskEvent)
			case eventbus.TaskDropped:
				dropped = ev.Data.(TaskEvent)
			}
		case <-timeout:
			t.Fatal("no drop event")
		}
	}
	assert.Equal(t, "o", created.Task)
	assert.Equal(t, info.Instance, dropped.Instance)
	assert.Equal(t, "exit: done", dropped.Reason)
	assert.Empty(t, h.Tasks())
}

func TestCallbackPanicDropsTask(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register("boom", func() task.ActionScheduler {
		return fixedScheduler{first: task.CallbackOnly(time.Millisecond, func(task.ActionResult) task.ScheduledAction {
			panic("boom")
		})}
	}))
	h := newTestHost(t, reg, nil)

	_, err := h.CreateTask(context.Background(), Definition{Name: "x", Class: "boom"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.Tasks()) == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestCreateTaskErrors(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	idle := task.CallbackOnly(time.Hour, func(task.ActionResult) task.ScheduledAction { return task.Exit("") })
	require.NoError(t, reg.Register("idle", func() task.ActionScheduler { return fixedScheduler{first: idle} }))
	require.NoError(t, reg.Register("badinit", func() task.ActionScheduler { return failingInit{} }))
	require.ErrorIs(t, reg.Register("idle", func() task.ActionScheduler { return nil }), ErrClassExists)
	assert.Equal(t, []string{"badinit", "idle"}, reg.Classes())

	h := newTestHost(t, reg, nil)
	ctx := context.Background()

	_, err := h.CreateTask(ctx, Definition{Name: "a", Class: "idle"})
	require.NoError(t, err)
	_, err = h.CreateTask(ctx, Definition{Name: "a", Class: "idle"})
	require.ErrorIs(t, err, ErrTaskExists)
	_, err = h.CreateTask(ctx, Definition{Name: "b", Class: "nope"})
	require.ErrorIs(t, err, ErrUnknownClass)
	_, err = h.CreateTask(ctx, Definition{Name: "c", Class: "badinit"})
	require.ErrorContains(t, err, "bad params")
	_, err = h.CreateTask(ctx, Definition{Name: " ", Class: "idle"})
	require.Error(t, err)

	require.NoError(t, h.Stop(ctx))
	_, err = h.CreateTask(ctx, Definition{Name: "d", Class: "idle"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestApplyReplacesChangedTasks(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	idle := task.CallbackOnly(time.Hour, func(task.ActionResult) task.ScheduledAction { return task.Exit("") })
	require.NoError(t, reg.Register("idle", func() task.ActionScheduler { return fixedScheduler{first: idle} }))
	h := newTestHost(t, reg, nil)
	ctx := context.Background()

	require.NoError(t, h.Apply(ctx, []Definition{
		{Name: "a", Class: "idle", Params: task.Params{"1"}},
		{Name: "b", Class: "idle"},
	}))
	a1, _ := h.Task("a")
	b1, _ := h.Task("b")

	err := h.Apply(ctx, []Definition{
		{Name: "a", Class: "idle", Params: task.Params{"2"}},
		{Name: "b", Class: "idle"},
		{Name: "c", Class: "missing"},
	})
	require.ErrorIs(t, err, ErrUnknownClass)

	a2, ok := h.Task("a")
	require.True(t, ok)
	b2, _ := h.Task("b")
	assert.NotEqual(t, a1.Instance, a2.Instance)
	assert.Equal(t, b1.Instance, b2.Instance)

	require.NoError(t, h.Apply(ctx, nil))
	assert.Empty(t, h.Tasks())
}

func TestApplyKeepsTasksWithPaddedNames(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	idle := task.CallbackOnly(time.Hour, func(task.ActionResult) task.ScheduledAction { return task.Exit("") })
	require.NoError(t, reg.Register("idle", func() task.ActionScheduler { return fixedScheduler{first: idle} }))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	h := newTestHost(t, reg, bus)
	ctx := context.Background()

	defs := []Definition{{Name: " nightly ", Class: "idle", Params: task.Params{"1"}}}
	require.NoError(t, h.Apply(ctx, defs))
	first, ok := h.Task("nightly")
	require.True(t, ok)
	assert.Equal(t, "nightly", first.Name)

	require.NoError(t, h.Apply(ctx, defs))
	again, ok := h.Task("nightly")
	require.True(t, ok)
	assert.Equal(t, first.Instance, again.Instance)
	assert.Equal(t, " nightly ", defs[0].Name, "caller's slice is not modified")

	var created, dropped int
	for len(events) > 0 {
		switch (<-events).Type {
		case eventbus.TaskCreated:
			created++
		case eventbus.TaskDropped:
			dropped++
		}
	}
	assert.Equal(t, 1, created)
	assert.Zero(t, dropped)

	assert.True(t, h.DropTask(" nightly"))
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(0)
	resp, err := d.Call(context.Background(), PingProcedure)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, resp.Status)

	var got []any
	require.NoError(t, d.Register("echo", func(_ context.Context, params ...any) task.Response {
		got = params
		return task.Response{Status: task.StatusSuccess, StatusString: fmt.Sprint(params...)}
	}))
	require.Error(t, d.Register("echo", ping))
	resp, err = d.Call(context.Background(), "echo", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1}, got)

	resp, err = d.Call(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, task.StatusGracefulFailure, resp.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err = d.Call(ctx, PingProcedure)
	require.Error(t, err)
	assert.Equal(t, task.StatusConnectionLost, resp.Status)
}

func TestOnceSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &onceSchedule{at: now.Add(time.Second)}
	assert.Equal(t, now.Add(time.Second), s.Next(now))
	assert.True(t, s.Next(now).IsZero())

	late := &onceSchedule{at: now}
	assert.Equal(t, now.Add(time.Minute), late.Next(now.Add(time.Minute)))
}

func TestRunsScriptEndToEnd(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	marks := filepath.Join(home, "marks")
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	script := fmt.Sprintf("#!/bin/sh\necho tick >> %s\n", marks)
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "tick.sh"), []byte(script), 0o755))

	reg := NewRegistry()
	require.NoError(t, reg.Register(scriptrunner.ClassName, scriptrunner.Factory(
		scriptrunner.WithHomeDir(func() (string, error) { return home, nil }),
		scriptrunner.WithOutput(io.Discard),
	)))
	h := newTestHost(t, reg, nil)

	_, err := h.CreateTask(context.Background(), Definition{
		Name:   "tick",
		Class:  scriptrunner.ClassName,
		Params: task.Params{"20", "tick.sh"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(marks)
		return err == nil && strings.Count(string(b), "tick\n") >= 2
	}, 10*time.Second, 10*time.Millisecond)
}
