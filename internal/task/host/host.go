package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"execbin/internal/eventbus"
	"execbin/internal/task"
	logx "execbin/pkg/logx"
)

// Definition declares a task: which class builds it and with what params.
type Definition struct {
	Name   string
	Class  string
	Params task.Params
}

func (d Definition) Equal(o Definition) bool {
	return d.Name == o.Name && d.Class == o.Class && slices.Equal(d.Params, o.Params)
}

// TaskInfo is a snapshot of a live task.
type TaskInfo struct {
	Name     string    `json:"name"`
	Class    string    `json:"class"`
	Instance string    `json:"instance"`
	Created  time.Time `json:"created"`
	NextRun  time.Time `json:"next_run"`
	Pending  string    `json:"pending"`
	Cycles   uint64    `json:"cycles"`
}

type Options struct {
	Logger logx.Logger
	Bus    eventbus.Bus

	// Location is the cron clock location (default Local).
	Location *time.Location

	// RatePerSec bounds procedure calls (default DefaultRatePerSec).
	RatePerSec int
}

// Host owns the live tasks and the cron instance that fires their actions.
type Host struct {
	reg  *Registry
	disp *Dispatcher
	log  logx.Logger
	bus  eventbus.Bus
	c    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   map[string]*liveTask
	started bool
	stopped bool
}

// liveTask is one instance of a definition. A replaced or dropped task is a
// different pointer, which is how late results are recognised and discarded.
type liveTask struct {
	def      Definition
	instance string
	created  time.Time

	sched   task.ActionScheduler
	entryID cron.EntryID
	pending task.ActionKind
	nextRun time.Time
	cycles  uint64
}

func (lt *liveTask) info() TaskInfo {
	return TaskInfo{
		Name:     lt.def.Name,
		Class:    lt.def.Class,
		Instance: lt.instance,
		Created:  lt.created,
		NextRun:  lt.nextRun,
		Pending:  lt.pending.String(),
		Cycles:   lt.cycles,
	}
}

func New(reg *Registry, opt Options) *Host {
	log := opt.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	loc := opt.Location
	if loc == nil {
		loc = time.Local
	}

	cl := cronLogger{log: log.With(logx.String("component", "cron"))}
	h := &Host{
		reg:   reg,
		disp:  NewDispatcher(opt.RatePerSec),
		log:   log,
		bus:   opt.Bus,
		c:     cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		tasks: map[string]*liveTask{},
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Dispatcher exposes the procedure table so callers can add procedures.
func (h *Host) Dispatcher() *Dispatcher { return h.disp }

func (h *Host) Registry() *Registry { return h.reg }

// Start begins firing actions. Tasks created before Start wait for it.
// Procedure calls see ctx; cancelling it makes pending calls fail with
// StatusConnectionLost.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	h.cancel()
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.c.Start()
	h.log.Info("task host started", logx.Int("tasks", len(h.tasks)))
}

// Stop stops firing actions and waits for running ones until ctx is done.
// Tasks are not dropped; their pending actions simply never fire.
func (h *Host) Stop(ctx context.Context) error {
	start := time.Now()
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.cancel()
	h.mu.Unlock()

	var err error
	select {
	case <-h.c.Stop().Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.log.Info("task host stopped", logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

// CreateTask builds, initializes and arms a task.
func (h *Host) CreateTask(ctx context.Context, def Definition) (TaskInfo, error) {
	if err := ctx.Err(); err != nil {
		return TaskInfo{}, err
	}
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return TaskInfo{}, fmt.Errorf("task name is required")
	}
	if err := h.checkFree(def.Name); err != nil {
		return TaskInfo{}, err
	}
	factory, ok := h.reg.Lookup(def.Class)
	if !ok {
		return TaskInfo{}, fmt.Errorf("%w: %s", ErrUnknownClass, def.Class)
	}

	lt := &liveTask{def: def, instance: uuid.NewString(), created: time.Now()}
	sched, first, err := h.build(lt, factory)
	if err != nil {
		return TaskInfo{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkFreeLocked(def.Name); err != nil {
		return TaskInfo{}, err
	}
	lt.sched = sched
	h.tasks[def.Name] = lt
	h.log.Info("task created",
		logx.String("task", def.Name),
		logx.String("class", def.Class),
		logx.String("instance", lt.instance),
	)
	h.publish(eventbus.TaskCreated, TaskEvent{Task: def.Name, Instance: lt.instance, Class: def.Class})
	h.armLocked(lt, first)
	return lt.info(), nil
}

func (h *Host) checkFree(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkFreeLocked(name)
}

func (h *Host) checkFreeLocked(name string) error {
	if h.stopped {
		return ErrStopped
	}
	if _, ok := h.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	return nil
}

// build runs the scheduler's setup outside the host lock.
func (h *Host) build(lt *liveTask, factory task.Factory) (sched task.ActionScheduler, first task.ScheduledAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s: panic during setup: %v", lt.def.Name, r)
		}
	}()

	sched = factory()
	if sched == nil {
		return nil, first, fmt.Errorf("task %s: class %s built no scheduler", lt.def.Name, lt.def.Class)
	}
	if in, ok := sched.(task.Initializer); ok {
		if err := in.Initialize(newHelper(h.log, lt), lt.def.Params); err != nil {
			return nil, first, fmt.Errorf("task %s: initialize: %w", lt.def.Name, err)
		}
	}
	return sched, sched.GetFirstScheduledAction(), nil
}

// DropTask removes a task. A result still in flight is discarded when it
// arrives. Reports whether the task existed.
func (h *Host) DropTask(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	lt, ok := h.tasks[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	return h.dropLocked(lt, "dropped")
}

// Apply makes the live task set match defs. Tasks whose definition changed
// are replaced by fresh instances; unchanged ones keep running untouched.
func (h *Host) Apply(ctx context.Context, defs []Definition) error {
	// Names are compared the way CreateTask stores them.
	defs = slices.Clone(defs)
	want := make(map[string]Definition, len(defs))
	for i := range defs {
		defs[i].Name = strings.TrimSpace(defs[i].Name)
		want[defs[i].Name] = defs[i]
	}

	h.mu.Lock()
	for name, lt := range h.tasks {
		d, ok := want[name]
		switch {
		case !ok:
			h.dropLocked(lt, "removed from config")
		case !d.Equal(lt.def):
			h.dropLocked(lt, "definition changed")
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, d := range defs {
		if _, ok := h.Task(d.Name); ok {
			continue
		}
		if _, err := h.CreateTask(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) Task(name string) (TaskInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lt, ok := h.tasks[strings.TrimSpace(name)]
	if !ok {
		return TaskInfo{}, false
	}
	return lt.info(), true
}

// Tasks returns a snapshot of live tasks sorted by name.
func (h *Host) Tasks() []TaskInfo {
	h.mu.Lock()
	out := make([]TaskInfo, 0, len(h.tasks))
	for _, lt := range h.tasks {
		out = append(out, lt.info())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// armLocked schedules action a for lt. Call with h.mu held.
func (h *Host) armLocked(lt *liveTask, a task.ScheduledAction) {
	if a.Kind == task.KindExit {
		h.log.Info("task exited", logx.String("task", lt.def.Name), logx.String("message", a.Message))
		h.dropLocked(lt, "exit: "+a.Message)
		return
	}
	if a.Callback == nil {
		h.log.Error("action has no callback; dropping task",
			logx.String("task", lt.def.Name),
			logx.String("kind", a.Kind.String()),
		)
		h.dropLocked(lt, "action without callback")
		return
	}

	delay := max(a.Delay, 0)
	lt.pending = a.Kind
	lt.nextRun = time.Now().Add(delay)
	lt.entryID = h.c.Schedule(&onceSchedule{at: lt.nextRun}, cron.FuncJob(func() { h.fire(lt, a) }))
	h.log.Trace("action armed",
		logx.String("task", lt.def.Name),
		logx.String("kind", a.Kind.String()),
		logx.Duration("delay", delay),
	)
}

// dropLocked removes lt if it is still the live instance. Call with h.mu held.
func (h *Host) dropLocked(lt *liveTask, reason string) bool {
	if h.tasks[lt.def.Name] != lt {
		return false
	}
	if lt.entryID != 0 {
		h.c.Remove(lt.entryID)
		lt.entryID = 0
	}
	delete(h.tasks, lt.def.Name)
	h.log.Info("task dropped",
		logx.String("task", lt.def.Name),
		logx.String("instance", lt.instance),
		logx.String("reason", reason),
	)
	h.publish(eventbus.TaskDropped, TaskEvent{Task: lt.def.Name, Instance: lt.instance, Class: lt.def.Class, Reason: reason})
	return true
}

// fire runs on a cron job goroutine when an action's delay has elapsed.
func (h *Host) fire(lt *liveTask, a task.ScheduledAction) {
	h.mu.Lock()
	if h.stopped || h.tasks[lt.def.Name] != lt {
		h.mu.Unlock()
		return
	}
	h.c.Remove(lt.entryID)
	lt.entryID = 0
	ctx := h.ctx
	h.mu.Unlock()

	result := h.perform(ctx, lt, a)
	next, ok := h.invoke(lt, a.Callback, result)

	h.mu.Lock()
	defer h.mu.Unlock()
	if !ok {
		h.dropLocked(lt, "callback panic")
		return
	}
	if h.tasks[lt.def.Name] != lt {
		h.log.Debug("discarding result of dropped task",
			logx.String("task", lt.def.Name),
			logx.String("instance", lt.instance),
		)
		return
	}
	if h.stopped {
		return
	}
	lt.cycles++
	h.armLocked(lt, next)
}

func (h *Host) perform(ctx context.Context, lt *liveTask, a task.ScheduledAction) task.ActionResult {
	if a.Kind != task.KindProcedure {
		return task.NewActionResult(a, task.Response{Status: task.StatusSuccess}, nil)
	}

	start := time.Now()
	resp, err := h.disp.Call(ctx, a.Procedure, a.Params...)
	took := time.Since(start)

	h.log.Debug("procedure returned",
		logx.String("task", lt.def.Name),
		logx.String("procedure", a.Procedure),
		logx.String("status", resp.Status.String()),
		logx.Duration("took", took),
		logx.Err(err),
	)
	h.publish(eventbus.TaskProcedure, ProcedureEvent{
		Task:         lt.def.Name,
		Instance:     lt.instance,
		Class:        lt.def.Class,
		Procedure:    a.Procedure,
		Status:       resp.Status,
		StatusString: resp.StatusString,
		Took:         took,
		Err:          err,
	})
	return task.NewActionResult(a, resp, err)
}

// invoke calls cb, reporting ok=false if it panicked.
func (h *Host) invoke(lt *liveTask, cb task.Callback, res task.ActionResult) (next task.ScheduledAction, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("task callback panic",
				logx.String("task", lt.def.Name),
				logx.String("instance", lt.instance),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			ok = false
		}
	}()
	return cb(res), true
}

func (h *Host) publish(typ string, data any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
