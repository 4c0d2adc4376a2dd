package tg

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger writes through the standard log package, optionally into a rotating file.
type stdLogger struct {
	file *lumberjack.Logger
}

// LogConfig specifies where log messages go.  With no Logfile, messages are
// sent through the standard log package.
type LogConfig struct {
	Logfile string `toml:"logfile"`
	MaxSize int    `toml:"max_log_size"` // megabytes
	MaxAge  int    `toml:"max_log_age"`  // days
}

// SetLogger routes log messages into the configured rotating log file.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Debugf("No log file configured; logging to stderr.\n")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	setLogger(stdLogger{l})
}

func (s stdLogger) printf(m ModeFlag, format string, args []interface{}) {
	log.Printf(" "+m.String()+" "+format, args...)
}

func (s stdLogger) Debugf(format string, args ...interface{})   { s.printf(DebugMode, format, args) }
func (s stdLogger) Infof(format string, args ...interface{})    { s.printf(InfoMode, format, args) }
func (s stdLogger) Warningf(format string, args ...interface{}) { s.printf(WarningMode, format, args) }
func (s stdLogger) Errorf(format string, args ...interface{})   { s.printf(ErrorMode, format, args) }
func (s stdLogger) Criticalf(format string, args ...interface{}) {
	s.printf(CriticalMode, format, args)
}

func (s stdLogger) Shutdown() {
	if s.file != nil {
		log.Printf("Closing log file...\n")
		s.file.Close()
	}
}
