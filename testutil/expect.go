// Package testutil holds helpers shared by tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"tokenledger/errors"
)

var wd, _ = os.Getwd()

// ExpectEqual reports a test error, with both values dumped,
// when actual and expected are not deeply equal.
func ExpectEqual(t testing.TB, actual, expected interface{}, msg string) {
	t.Helper()
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("%s:\ngot:  %s\nwant: %s\n%s", msg, spew.Sdump(actual), spew.Sdump(expected), stackTrace())
	}
}

// ExpectError reports a test error when the root of fn's error is
// not expected.
func ExpectError(t testing.TB, expected error, msg string, fn func() error) {
	t.Helper()
	actual := fn()
	if expected != errors.Root(actual) {
		t.Errorf("%s: got error %v, expected %v\n%s", msg, actual, expected, stackTrace())
	}
}

// FatalErr stops the test, printing err and the stack it carries
// with paths relative to the package directory.
func FatalErr(t testing.TB, err error) {
	t.Helper()
	args := []interface{}{err}
	for _, frame := range errors.Stack(err) {
		file := frame.File
		if rel, err := filepath.Rel(wd, file); err == nil && !strings.HasPrefix(rel, "../") {
			file = rel
		}
		funcname := frame.Func[strings.IndexByte(frame.Func, '.')+1:]
		args = append(args, fmt.Sprintf("\n%s:%d: %s", file, frame.Line, funcname))
	}
	t.Fatal(args...)
}

func stackTrace() []byte {
	buf := make([]byte, 16384)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
