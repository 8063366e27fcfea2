// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzerr carries the typed failures shared by the fuzzing engines.
package fuzzerr

import (
	"errors"
	"fmt"
	"runtime"
)

type Kind int

const (
	// FatalConfig aborts startup: insufficient seeds, unreadable grammar,
	// missing dictionaries.
	FatalConfig Kind = iota
	// IOFailure is a corpus file that could not be created, written or
	// deleted. The current fuzz iteration is abandoned, the loop continues.
	IOFailure
	// GrammarStarvation notes a generation that fell back to the minimum
	// expansion. Never fatal.
	GrammarStarvation
	// Skippable marks input that was silently dropped.
	Skippable
)

func (k Kind) String() string {
	switch k {
	case FatalConfig:
		return "fatal_config"
	case IOFailure:
		return "unable_to_create_file"
	case GrammarStarvation:
		return "grammar_starvation"
	case Skippable:
		return "skippable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure with its kind, an optional path, and the source site
// that raised it.
type Error struct {
	Kind Kind
	Msg  string
	Path string
	File string
	Line int
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Path != "" {
		s += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.File != "" {
		s += fmt.Sprintf(" at %s:%d", e.File, e.Line)
	}
	return s
}

// New creates an Error capturing the caller's source location.
func New(kind Kind, msg string) *Error {
	e := &Error{Kind: kind, Msg: msg}
	e.site(2)
	return e
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	e.site(2)
	return e
}

// WithPath creates an Error annotated with the offending path.
func WithPath(kind Kind, path, msg string) *Error {
	e := &Error{Kind: kind, Msg: msg, Path: path}
	e.site(2)
	return e
}

func (e *Error) site(skip int) {
	if _, file, line, ok := runtime.Caller(skip); ok {
		e.File = file
		e.Line = line
	}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
