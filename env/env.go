// Package env converts environment variables into Go values.
// It is similar in design to package flag: variables are declared
// with a name and default, then filled in by Parse.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// A Set is a group of declared environment variables.
// Most programs use the package-level functions, which
// operate on a default Set.
type Set struct {
	lookup func(string) (string, bool)
	vars   []func() error
}

// NewSet returns a Set that reads variables with lookup.
// A nil lookup means os.LookupEnv.
func NewSet(lookup func(string) (string, bool)) *Set {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Set{lookup: lookup}
}

var std = NewSet(nil)

func (s *Set) define(name string, set func(string) error) {
	s.vars = append(s.vars, func() error {
		v, ok := s.lookup(name)
		if !ok || v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		return nil
	})
}

// String declares a string variable.
func (s *Set) String(name, value string) *string {
	p := &value
	s.define(name, func(v string) error {
		*p = v
		return nil
	})
	return p
}

// Int declares an int variable parsed with strconv.Atoi.
func (s *Set) Int(name string, value int) *int {
	p := &value
	s.define(name, func(v string) error {
		n, err := strconv.Atoi(v)
		*p = n
		return err
	})
	return p
}

// Bool declares a bool variable parsed with strconv.ParseBool.
func (s *Set) Bool(name string, value bool) *bool {
	p := &value
	s.define(name, func(v string) error {
		b, err := strconv.ParseBool(v)
		*p = b
		return err
	})
	return p
}

// Duration declares a duration variable parsed with time.ParseDuration.
func (s *Set) Duration(name string, value time.Duration) *time.Duration {
	p := &value
	s.define(name, func(v string) error {
		d, err := time.ParseDuration(v)
		*p = d
		return err
	})
	return p
}

// StringSlice declares a comma-separated list variable.
func (s *Set) StringSlice(name string, value ...string) *[]string {
	p := &value
	s.define(name, func(v string) error {
		*p = strings.Split(v, ",")
		return nil
	})
	return p
}

// Parse assigns every declared variable that is present in the
// environment. It reports all values that cannot be parsed,
// one per line.
func (s *Set) Parse() error {
	var msgs []string
	for _, f := range s.vars {
		if err := f(); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%s", strings.Join(msgs, "\n"))
	}
	return nil
}

// String declares a string variable in the default Set.
func String(name, value string) *string { return std.String(name, value) }

// Int declares an int variable in the default Set.
func Int(name string, value int) *int { return std.Int(name, value) }

// Bool declares a bool variable in the default Set.
func Bool(name string, value bool) *bool { return std.Bool(name, value) }

// Duration declares a duration variable in the default Set.
func Duration(name string, value time.Duration) *time.Duration { return std.Duration(name, value) }

// StringSlice declares a list variable in the default Set.
func StringSlice(name string, value ...string) *[]string { return std.StringSlice(name, value...) }

// Parse parses the default Set. If any values cannot be parsed,
// it prints them to stderr and exits the process with status 1.
func Parse() {
	if err := std.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
