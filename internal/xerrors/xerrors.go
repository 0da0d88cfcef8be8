// Package xerrors provides error wrapping that records the program counter
// of the call site, so logs can point at the origin of a failure without
// every error message carrying file/line noise.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

type base struct {
	msg string
	pc  uintptr
}

func (b *base) Error() string { return b.msg }
func (b *base) PC() uintptr   { return b.pc }

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// 2 skips runtime.Callers and callerPC itself
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error carrying the caller's PC.
func New(msg string) error { return &base{msg: msg, pc: callerPC(1)} }

// Newf is New with fmt.Sprintf formatting.
func Newf(format string, args ...any) error {
	return &base{msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Wrap annotates err with msg and the caller's PC. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt.Sprintf formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Origin walks the chain from the outside in and returns the PC recorded
// closest to the root cause, or 0 if no link in the chain carries one.
func Origin(err error) uintptr {
	type hasPC interface{ PC() uintptr }
	var pc uintptr
	for e := err; e != nil; e = errors.Unwrap(e) {
		if hp, ok := e.(hasPC); ok {
			pc = hp.PC()
		}
	}
	return pc
}
