package tg

import (
	"sync/atomic"
	"time"
)

// ModeFlag is a log severity.  Messages below the current mode are dropped.
type ModeFlag uint32

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL", "SILENT"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "UNKNOWN"
}

var (
	// Verbose asks for extra detail in messages that are already logged.
	Verbose bool

	mode = uint32(InfoMode)

	// logger holds a loggerRef so loggers of any concrete type can be swapped in.
	logger atomic.Value
)

type loggerRef struct {
	Logger
}

func currentLogger() Logger {
	if r, ok := logger.Load().(loggerRef); ok {
		return r.Logger
	}
	return stdLogger{}
}

// setLogger installs l and returns the logger it replaces.
func setLogger(l Logger) Logger {
	if r, ok := logger.Swap(loggerRef{l}).(loggerRef); ok {
		return r.Logger
	}
	return stdLogger{}
}

// Logger receives leveled messages.  Tile pulls log from many goroutines, so
// implementations must be safe for concurrent use.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any underlying file.
	Shutdown()
}

// SetLogMode sets the lowest severity printed.  SetLogMode(tg.WarningMode) keeps
// Warningf, Errorf and Criticalf; SilentMode drops everything.
func SetLogMode(newMode ModeFlag) {
	atomic.StoreUint32(&mode, uint32(newMode))
}

// LogMode returns the current log severity threshold.
func LogMode() ModeFlag {
	return ModeFlag(atomic.LoadUint32(&mode))
}

func enabled(m ModeFlag) bool {
	return m >= LogMode() && m < SilentMode
}

func logf(l Logger, m ModeFlag, format string, args []interface{}) {
	if !enabled(m) {
		return
	}
	switch m {
	case DebugMode:
		l.Debugf(format, args...)
	case InfoMode:
		l.Infof(format, args...)
	case WarningMode:
		l.Warningf(format, args...)
	case ErrorMode:
		l.Errorf(format, args...)
	case CriticalMode:
		l.Criticalf(format, args...)
	}
}

func Debugf(format string, args ...interface{})    { logf(currentLogger(), DebugMode, format, args) }
func Infof(format string, args ...interface{})     { logf(currentLogger(), InfoMode, format, args) }
func Warningf(format string, args ...interface{})  { logf(currentLogger(), WarningMode, format, args) }
func Errorf(format string, args ...interface{})    { logf(currentLogger(), ErrorMode, format, args) }
func Criticalf(format string, args ...interface{}) { logf(currentLogger(), CriticalMode, format, args) }

// Shutdown closes any log file opened via LogConfig.SetLogger.
func Shutdown() {
	currentLogger().Shutdown()
}

// TimeLog appends the time elapsed since its creation to each message.
//
//	timedLog := tg.NewTimeLog()
//	...
//	timedLog.Infof("mapped %d rasters", n)  // "mapped 3 rasters: 1.2s"
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{currentLogger(), time.Now()}
}

func (t TimeLog) logf(m ModeFlag, format string, args []interface{}) {
	if enabled(m) {
		logf(t.logger, m, format+": %s\n", append(args, time.Since(t.start)))
	}
}

func (t TimeLog) Debugf(format string, args ...interface{})   { t.logf(DebugMode, format, args) }
func (t TimeLog) Infof(format string, args ...interface{})    { t.logf(InfoMode, format, args) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.logf(WarningMode, format, args) }
