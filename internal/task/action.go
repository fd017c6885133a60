package task

import (
	"fmt"
	"time"
)

// Status is the outcome code of a procedure call.
type Status int8

const (
	StatusSuccess           Status = 1
	StatusUserAbort         Status = -1
	StatusGracefulFailure   Status = -2
	StatusUnexpectedFailure Status = -3
	StatusConnectionLost    Status = -4
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUserAbort:
		return "user_abort"
	case StatusGracefulFailure:
		return "graceful_failure"
	case StatusUnexpectedFailure:
		return "unexpected_failure"
	case StatusConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// Response is what a procedure call reports back.
type Response struct {
	Status       Status
	StatusString string
}

// ActionKind selects what the host does when an action's delay elapses.
type ActionKind uint8

const (
	KindProcedure ActionKind = iota
	KindCallback
	KindExit
)

func (k ActionKind) String() string {
	switch k {
	case KindProcedure:
		return "procedure"
	case KindCallback:
		return "callback"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Callback receives the outcome of an action and returns the next one.
type Callback func(ActionResult) ScheduledAction

// ScheduledAction describes one future unit of work.
// It is consumed exactly once by the host.
type ScheduledAction struct {
	Kind      ActionKind
	Delay     time.Duration
	Callback  Callback
	Procedure string
	Params    []any

	// Message is set for KindExit.
	Message string
}

// ProcedureCall runs procedure after delay and passes its result to cb.
func ProcedureCall(delay time.Duration, cb Callback, procedure string, params ...any) ScheduledAction {
	return ScheduledAction{
		Kind:      KindProcedure,
		Delay:     delay,
		Callback:  cb,
		Procedure: procedure,
		Params:    params,
	}
}

// CallbackOnly invokes cb after delay without calling a procedure.
func CallbackOnly(delay time.Duration, cb Callback) ScheduledAction {
	return ScheduledAction{Kind: KindCallback, Delay: delay, Callback: cb}
}

// Exit asks the host to stop the task.
func Exit(message string) ScheduledAction {
	return ScheduledAction{Kind: KindExit, Message: message}
}

// ActionResult is handed to a Callback once the action ran.
type ActionResult struct {
	action   ScheduledAction
	response Response
	err      error
}

// NewActionResult is used by the host (and tests) to build a result.
func NewActionResult(action ScheduledAction, resp Response, err error) ActionResult {
	return ActionResult{action: action, response: resp, err: err}
}

func (r ActionResult) Response() Response { return r.response }
func (r ActionResult) Procedure() string  { return r.action.Procedure }
func (r ActionResult) Params() []any      { return r.action.Params }
func (r ActionResult) Delay() time.Duration {
	return r.action.Delay
}

// Err returns the dispatch error, if the host could not run the procedure at all.
func (r ActionResult) Err() error { return r.err }

// Succeeded reports whether the procedure returned StatusSuccess.
func (r ActionResult) Succeeded() bool { return r.response.Status == StatusSuccess }
