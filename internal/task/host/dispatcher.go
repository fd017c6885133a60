package host

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"execbin/internal/task"
)

const (
	// PingProcedure is the built-in no-op procedure.
	PingProcedure = "@Ping"

	// DefaultRatePerSec bounds procedure calls across all tasks.
	DefaultRatePerSec = 50
)

// Procedure is a named call a task can ask the host to run.
type Procedure func(ctx context.Context, params ...any) task.Response

// Dispatcher resolves procedure names and runs them under a shared rate limit.
type Dispatcher struct {
	limiter *rate.Limiter

	mu    sync.RWMutex
	procs map[string]Procedure
}

// NewDispatcher returns a dispatcher with PingProcedure registered.
// ratePerSec <= 0 selects DefaultRatePerSec.
func NewDispatcher(ratePerSec int) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	d := &Dispatcher{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		procs:   map[string]Procedure{},
	}
	d.procs[PingProcedure] = ping
	return d
}

func ping(context.Context, ...any) task.Response {
	return task.Response{Status: task.StatusSuccess}
}

func (d *Dispatcher) Register(name string, p Procedure) error {
	name = strings.TrimSpace(name)
	if name == "" || p == nil {
		return fmt.Errorf("procedure name and func are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.procs[name]; ok {
		return fmt.Errorf("procedure %s already registered", name)
	}
	d.procs[name] = p
	return nil
}

// Call runs the named procedure.
//
// An unknown name is a graceful failure, not an error. The error return is
// only set when the call could not be made at all (ctx done while waiting for
// the limiter), in which case the status is StatusConnectionLost.
func (d *Dispatcher) Call(ctx context.Context, name string, params ...any) (task.Response, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return task.Response{
			Status:       task.StatusConnectionLost,
			StatusString: "connection lost: " + err.Error(),
		}, err
	}

	d.mu.RLock()
	p, ok := d.procs[name]
	d.mu.RUnlock()
	if !ok {
		return task.Response{
			Status:       task.StatusGracefulFailure,
			StatusString: fmt.Sprintf("procedure %s was not found", name),
		}, nil
	}
	return p(ctx, params...), nil
}
