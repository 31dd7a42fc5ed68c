// Package log writes structured log entries formatted as K=V pairs.
// Output goes to stdout unless changed with SetOutput.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"tokenledger/errors"
)

const rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

var (
	logWriterMu sync.Mutex // protects the following
	logWriter   io.Writer  = os.Stdout
	prefix      []byte

	// Keys and values are quoted or rewritten so that splitting an
	// entry on any of these delimiters is unambiguous.
	pairDelims      = " ,;|&\t\n\r"
	illegalKeyChars = pairDelims + `="`
)

// Conventional key names for log entries
const (
	KeyCaller  = "at"      // location of caller
	KeyTime    = "t"       // time of call
	KeyFlowID  = "flowid"  // flow ID from context
	KeyMessage = "message" // produced by Printf
	KeyError   = "error"   // produced by Error
	KeyStack   = "stack"   // used by Printkv to print stack on subsequent lines

	keyLogError = "log-error" // for errors produced by the log package itself
)

type flowIDKey struct{}

// WithFlowID returns a context whose log entries carry id
// under the flowid key.
func WithFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDKey{}, id)
}

// FlowID returns the flow ID stored in ctx, or "" if there is none.
func FlowID(ctx context.Context) string {
	id, _ := ctx.Value(flowIDKey{}).(string)
	return id
}

// SetOutput sets the log output to w.
func SetOutput(w io.Writer) {
	logWriterMu.Lock()
	logWriter = w
	logWriterMu.Unlock()
}

// SetPrefix sets key-value pairs written at the start
// of every entry.
func SetPrefix(keyval ...interface{}) {
	if len(keyval)%2 != 0 {
		panic(fmt.Sprintf("odd-length prefix args: %v", keyval))
	}
	var b []byte
	for i := 0; i < len(keyval); i += 2 {
		b = append(b, formatKey(keyval[i])...)
		b = append(b, '=')
		b = append(b, formatValue(keyval[i+1])...)
		b = append(b, ' ')
	}
	logWriterMu.Lock()
	prefix = b
	logWriterMu.Unlock()
}

// Printkv writes a structured log entry. Fields are given as
// alternating keys and values; duplicate keys are preserved.
//
// The entry starts with the caller's file and line, a timestamp and,
// if present, the flow ID from ctx.
//
// A stack trace is printed on separate lines after the entry when
// keyvals contains a KeyStack value of type []byte or
// []errors.StackFrame, or else a KeyError value whose error carries
// a stack.
func Printkv(ctx context.Context, keyvals ...interface{}) {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "", keyLogError, "odd number of log params")
	}

	t := time.Now().UTC()
	out := fmt.Sprintf("%s=%s %s=%s", KeyCaller, caller(), KeyTime, formatValue(t.Format(rfc3339NanoFixed)))
	if id := FlowID(ctx); id != "" {
		out += " " + KeyFlowID + "=" + formatValue(id)
	}

	var stack interface{}
	for i := 0; i < len(keyvals); i += 2 {
		k, v := keyvals[i], keyvals[i+1]
		if k == KeyStack && isStackVal(v) {
			stack = v
			continue
		}
		if k == KeyError {
			if e, ok := v.(error); ok && stack == nil {
				stack = errors.Stack(e)
			}
		}
		out += " " + formatKey(k) + "=" + formatValue(v)
	}

	logWriterMu.Lock()
	logWriter.Write(prefix)
	logWriter.Write([]byte(out)) // ignore errors
	logWriter.Write([]byte{'\n'})
	writeRawStack(logWriter, stack)
	logWriterMu.Unlock()
}

// Printf writes a log entry containing a message assigned to the
// "message" key. Arguments are handled as in fmt.Printf.
func Printf(ctx context.Context, format string, a ...interface{}) {
	Printkv(ctx, KeyMessage, fmt.Sprintf(format, a...))
}

// Error writes a log entry containing an error message assigned to the
// "error" key. Optional prefix arguments are handled as in fmt.Print.
func Error(ctx context.Context, err error, a ...interface{}) {
	if len(a) > 0 {
		err = errors.Wrap(err, a...)
	}
	Printkv(ctx, KeyError, err)
}

// Fatalkv is equivalent to Printkv followed by a call to os.Exit(1).
func Fatalkv(ctx context.Context, keyvals ...interface{}) {
	Printkv(ctx, keyvals...)
	os.Exit(1)
}

// RecoverAndLogError must be used inside a defer.
func RecoverAndLogError(ctx context.Context) {
	if err := recover(); err != nil {
		const size = 64 << 10
		buf := make([]byte, size)
		buf = buf[:runtime.Stack(buf, false)]
		Printkv(ctx,
			KeyMessage, "panic",
			KeyError, err,
			KeyStack, buf,
		)
	}
}

func writeRawStack(w io.Writer, v interface{}) {
	switch v := v.(type) {
	case []byte:
		if len(v) > 0 {
			w.Write(v)
			w.Write([]byte{'\n'})
		}
	case []errors.StackFrame:
		for _, s := range v {
			io.WriteString(w, s.String())
			w.Write([]byte{'\n'})
		}
	}
}

func isStackVal(v interface{}) bool {
	switch v.(type) {
	case []byte, []errors.StackFrame:
		return true
	}
	return false
}

var skipFunc = map[string]bool{
	"tokenledger/log.Printkv":            true,
	"tokenledger/log.Printf":             true,
	"tokenledger/log.Error":              true,
	"tokenledger/log.Fatalkv":            true,
	"tokenledger/log.RecoverAndLogError": true,
}

// SkipFunc removes the named function from at=[file:line] entries.
// The name is the fully-qualified function name, for example
// tokenledger/flow.(*Tracker).report.
// SkipFunc must not be called concurrently with logging.
func SkipFunc(name string) {
	skipFunc[name] = true
}

// caller returns the file and line of the deepest frame on the
// calling goroutine's stack that is not in skipFunc.
func caller() string {
	for i := 1; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			return "?:?"
		}
		if !skipFunc[runtime.FuncForPC(pc).Name()] {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	}
}

// formatKey stubs out delimiter and quote characters with hyphens.
func formatKey(k interface{}) string {
	s := fmt.Sprint(k)
	if s == "" {
		return "?"
	}
	for _, c := range illegalKeyChars {
		s = strings.Replace(s, string(c), "-", -1)
	}
	return s
}

// formatValue quotes the value if it contains a delimiter.
func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, pairDelims) {
		return strconv.Quote(s)
	}
	return s
}
