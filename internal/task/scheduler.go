package task

// Helper is the logging handle the host gives to a scheduler.
// Each method writes one message at the matching severity.
type Helper interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)

	TaskName() string
}

// ActionScheduler produces the first action of a task.
type ActionScheduler interface {
	GetFirstScheduledAction() ScheduledAction
}

// Initializer is implemented by schedulers that take parameters.
// The host calls Initialize once, before GetFirstScheduledAction.
type Initializer interface {
	Initialize(h Helper, params Params) error
}

// Factory constructs a fresh, uninitialized scheduler.
type Factory func() ActionScheduler
