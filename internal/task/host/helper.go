package host

import (
	"execbin/internal/task"
	logx "execbin/pkg/logx"
)

// helper is the task.Helper handed to schedulers.
type helper struct {
	name string
	log  logx.Logger
}

func newHelper(log logx.Logger, lt *liveTask) helper {
	return helper{
		name: lt.def.Name,
		log: log.With(
			logx.String("task", lt.def.Name),
			logx.String("class", lt.def.Class),
			logx.String("instance", lt.instance),
		),
	}
}

func (h helper) LogDebug(m string)   { h.log.Debug(m) }
func (h helper) LogInfo(m string)    { h.log.Info(m) }
func (h helper) LogWarning(m string) { h.log.Warn(m) }
func (h helper) LogError(m string)   { h.log.Error(m) }
func (h helper) TaskName() string    { return h.name }

var _ task.Helper = helper{}
