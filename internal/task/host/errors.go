package host

import "errors"

var (
	ErrTaskExists   = errors.New("task already exists")
	ErrUnknownClass = errors.New("unknown task class")
	ErrClassExists  = errors.New("task class already registered")
	ErrStopped      = errors.New("task host stopped")
)
