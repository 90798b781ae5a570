// Package logger is the process wide logging facade. Backends are installed
// once with Init; every call fans out to all of them. Calls before Init are
// dropped.
package logger

import "sync/atomic"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

type level int

const (
	levelLog level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelFatal
)

var backends atomic.Pointer[[]LoggerInstance]

// Init replaces the installed backends. It is safe to call while other
// goroutines are logging.
func Init(instances ...LoggerInstance) {
	list := append([]LoggerInstance(nil), instances...)
	backends.Store(&list)
}

func dispatch(lvl level, message string, keyvals []any) {
	list := backends.Load()
	if list == nil {
		return
	}
	for _, instance := range *list {
		switch lvl {
		case levelDebug:
			instance.Debug(message, keyvals...)
		case levelInfo:
			instance.Info(message, keyvals...)
		case levelWarn:
			instance.Warn(message, keyvals...)
		case levelError:
			instance.Error(message, keyvals...)
		case levelFatal:
			instance.Fatal(message, keyvals...)
		default:
			instance.Log(message, keyvals...)
		}
	}
}

// Log writes a message at the default level.
func Log(message string, keyvals ...any) { dispatch(levelLog, message, keyvals) }

func Debug(message string, keyvals ...any) { dispatch(levelDebug, message, keyvals) }

func Info(message string, keyvals ...any) { dispatch(levelInfo, message, keyvals) }

func Warn(message string, keyvals ...any) { dispatch(levelWarn, message, keyvals) }

func Error(message string, keyvals ...any) { dispatch(levelError, message, keyvals) }

// Fatal logs and lets the backends terminate the process. Only startup code
// should call it.
func Fatal(message string, keyvals ...any) { dispatch(levelFatal, message, keyvals) }
