// Package audit persists task host events to the configured store.
package audit

import (
	"context"
	"time"

	"execbin/internal/eventbus"
	"execbin/internal/storage"
	"execbin/internal/task"
	"execbin/internal/task/host"
	logx "execbin/pkg/logx"
)

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

// Recorder subscribes to the event bus and appends one audit entry per
// host event. Events are dropped, never queued unboundedly, when the store
// falls behind.
type Recorder struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Subscribe registers on bus and returns the loop to run. Subscribing before
// the loop starts means no event published after Subscribe returns is missed.
func (r *Recorder) Subscribe(bus eventbus.Bus) func(ctx context.Context) error {
	events, unsub := bus.Subscribe(defaultBuffer)
	return func(ctx context.Context) error {
		defer unsub()
		if r.store == nil {
			<-ctx.Done()
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				r.record(ev)
			}
		}
	}
}

func (r *Recorder) record(ev eventbus.Event) {
	e, ok := Entry(ev)
	if !ok {
		return
	}
	// Use a fresh context so entries published during shutdown still land.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit write failed", logx.String("task", e.Task), logx.String("action", e.Action), logx.Err(err))
	}
}

// Entry converts a host event into an audit entry. Unknown events report false.
func Entry(ev eventbus.Event) (storage.AuditEntry, bool) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch d := ev.Data.(type) {
	case host.TaskEvent:
		action := storage.ActionCreated
		switch ev.Type {
		case eventbus.TaskCreated:
		case eventbus.TaskDropped:
			action = storage.ActionDropped
		default:
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:       at,
			Task:     d.Task,
			Instance: d.Instance,
			Class:    d.Class,
			Action:   action,
			Error:    d.Reason,
		}, true
	case host.ProcedureEvent:
		if ev.Type != eventbus.TaskProcedure {
			return storage.AuditEntry{}, false
		}
		e := storage.AuditEntry{
			At:       at,
			Task:     d.Task,
			Instance: d.Instance,
			Class:    d.Class,
			Action:   storage.ActionProcedure,
			Target:   d.Procedure,
			Status:   d.Status.String(),
			TookMS:   d.Took.Milliseconds(),
		}
		switch {
		case d.Err != nil:
			e.Error = d.Err.Error()
		case d.Status != task.StatusSuccess:
			e.Error = d.StatusString
		}
		return e, true
	default:
		return storage.AuditEntry{}, false
	}
}
