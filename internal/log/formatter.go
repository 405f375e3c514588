package log

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders a logrus entry through a pattern string understood by
// %time, %level, %field, %msg, %caller, %func, and %goroutine tokens,
// substituted in that fixed order.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	out := f.pattern
	out = strings.Replace(out, "%time", entry.Time.Format(f.time), 1)
	out = strings.Replace(out, "%level", entry.Level.String(), 1)
	out = strings.Replace(out, "%field", formatFields(entry), 1)
	out = strings.Replace(out, "%msg", entry.Message, 1)
	out = strings.Replace(out, "%caller", callerToken(entry), 1)
	out = strings.Replace(out, "%func", funcToken(entry), 1)
	out = strings.Replace(out, "%goroutine", goroutineToken(), 1)
	return []byte(out), nil
}

// callerToken renders "package/file:line" for the log call site, falling
// back to a raw runtime.Caller probe when logrus wasn't configured to
// capture one.
func callerToken(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return fallbackCaller()
	}
	file := baseName(entry.Caller.File)
	pkg := ""
	if entry.Caller.Function != "" {
		if dot := strings.LastIndex(entry.Caller.Function, "."); dot != -1 {
			pkg = baseName(entry.Caller.Function[:dot])
		}
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, entry.Caller.Line)
}

func fallbackCaller() string {
	_, file, line, ok := runtime.Caller(8)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("unknown/%s:%d", baseName(file), line)
}

// funcToken renders the bare function or method name (no package prefix).
func funcToken(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return lastSegment(entry.Caller.Function)
	}
	pc, _, _, ok := runtime.Caller(8)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return lastSegment(fn.Name())
}

// goroutineToken reads the calling goroutine's numeric id off the head of
// its own stack trace; there is no public runtime API for this.
func goroutineToken() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	fields := strings.Fields(stack)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

func formatFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	return strings.Join(fields, ",")
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		return path[idx+1:]
	}
	return path
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx != -1 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}
