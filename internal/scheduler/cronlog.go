package scheduler

import (
	"fmt"

	logx "taskminder/pkg/logx"
)

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	// SkipIfStillRunning reports a dropped trigger as "skip".
	if msg == "skip" {
		l.log.Warn("tick skipped; previous tick still running", fields...)
		return
	}
	l.log.Debug("cron "+msg, fields...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron "+msg, fields...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
