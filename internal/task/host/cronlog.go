package host

import (
	"fmt"

	logx "execbin/pkg/logx"
)

// cronLogger routes robfig/cron's own logging into logx.
// Cron's info chatter (schedule, wake, run) goes to trace.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, logx.Any("extra", kv[len(kv)-1]))
	}
	return out
}
