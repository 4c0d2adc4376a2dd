package tg

import (
	"fmt"
	"strings"
	"sync"

	. "github.com/janelia-flyem/go/gocheck"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) add(m ModeFlag, format string, args []interface{}) {
	r.mu.Lock()
	r.lines = append(r.lines, m.String()+" "+fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recordingLogger) Debugf(f string, a ...interface{})    { r.add(DebugMode, f, a) }
func (r *recordingLogger) Infof(f string, a ...interface{})     { r.add(InfoMode, f, a) }
func (r *recordingLogger) Warningf(f string, a ...interface{})  { r.add(WarningMode, f, a) }
func (r *recordingLogger) Errorf(f string, a ...interface{})    { r.add(ErrorMode, f, a) }
func (r *recordingLogger) Criticalf(f string, a ...interface{}) { r.add(CriticalMode, f, a) }
func (r *recordingLogger) Shutdown()                            {}

func (s *CoreSuite) TestLogMode(c *C) {
	rec := &recordingLogger{}
	saved, savedMode := setLogger(rec), LogMode()
	defer func() {
		setLogger(saved)
		SetLogMode(savedMode)
	}()

	SetLogMode(WarningMode)
	Debugf("dropped %d\n", 1)
	Infof("dropped %d\n", 2)
	Warningf("kept %d\n", 3)
	Criticalf("kept %d\n", 4)
	c.Assert(rec.lines, DeepEquals, []string{"WARNING kept 3\n", "CRITICAL kept 4\n"})

	SetLogMode(SilentMode)
	Criticalf("dropped\n")
	c.Assert(rec.lines, HasLen, 2)

	SetLogMode(DebugMode)
	NewTimeLog().Debugf("timed %s", "op")
	c.Assert(rec.lines, HasLen, 3)
	c.Assert(strings.HasPrefix(rec.lines[2], "DEBUG timed op: "), Equals, true)
	c.Assert(strings.HasSuffix(rec.lines[2], "\n"), Equals, true)
}

func (s *CoreSuite) TestSwapLoggerWhileLogging(c *C) {
	first, second := &recordingLogger{}, &recordingLogger{}
	saved, savedMode := setLogger(first), LogMode()
	defer func() {
		setLogger(saved)
		SetLogMode(savedMode)
	}()
	SetLogMode(InfoMode)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Infof("worker %d line %d\n", i, j)
			}
		}(i)
	}
	c.Assert(setLogger(second), Equals, Logger(first))
	wg.Wait()

	first.mu.Lock()
	n := len(first.lines)
	first.mu.Unlock()
	c.Assert(n+len(second.lines), Equals, 400)

	Infof("after swap\n")
	c.Assert(second.lines[len(second.lines)-1], Equals, "INFO after swap\n")
	c.Assert(first.lines, HasLen, n)
}
