package host

import (
	"time"

	"execbin/internal/task"
)

// TaskEvent is the payload of eventbus.TaskCreated and eventbus.TaskDropped.
type TaskEvent struct {
	Task     string
	Instance string
	Class    string
	Reason   string // dropped only
}

// ProcedureEvent is the payload of eventbus.TaskProcedure.
type ProcedureEvent struct {
	Task         string
	Instance     string
	Class        string
	Procedure    string
	Status       task.Status
	StatusString string
	Took         time.Duration
	Err          error
}
