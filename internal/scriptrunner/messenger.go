package scriptrunner

import (
	"fmt"
	"io"
	"sync"
	"time"

	"execbin/internal/task"
)

// Level is the severity of a runner message.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Messenger is where the runner reports what happened. It never fails the caller.
type Messenger interface {
	Msg(level Level, message string)
}

// HelperMessenger routes messages to the host's task helper.
func HelperMessenger(h task.Helper) Messenger { return helperMessenger{h: h} }

type helperMessenger struct{ h task.Helper }

func (m helperMessenger) Msg(level Level, message string) {
	switch level {
	case LevelDebug:
		m.h.LogDebug(message)
	case LevelInfo:
		m.h.LogInfo(message)
	case LevelWarning:
		m.h.LogWarning(message)
	default:
		m.h.LogError(message)
	}
}

const consoleTimeLayout = "2006-01-02 15:04:05"

// ConsoleMessenger writes "2006-01-02 15:04:05:<message>" lines to w.
// It is used when the runner lives outside a host.
func ConsoleMessenger(w io.Writer) Messenger {
	return &consoleMessenger{w: w, now: time.Now}
}

type consoleMessenger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (m *consoleMessenger) Msg(_ Level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = fmt.Fprintf(m.w, "%s:%s\n", m.now().Format(consoleTimeLayout), message)
}
