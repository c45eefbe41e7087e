// +build !windows

package blog

import (
	sl "log/syslog"
)

var w *sl.Writer

func platformInit(tag string) error {
	var e error
	w, e = sl.New(sl.LOG_DAEMON|sl.LOG_DEBUG, tag)
	return e
}

func platformClose() error {
	if w == nil {
		return nil
	}
	return w.Close()
}

func platformWrite(l Level, msg string) {
	if w == nil {
		return
	}
	switch l {
	case LevelError:
		w.Err(msg)
	case LevelWarning:
		w.Warning(msg)
	case LevelInfo:
		w.Info(msg)
	case LevelDebug:
		w.Debug(msg)
	}
}
