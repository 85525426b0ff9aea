// Package errs defines the error kinds shared by the search pipeline.
//
// Every failure that crosses a package boundary is an *Error carrying its
// Kind, the pipeline stage that produced it and, when known, the clip being
// processed. Callers match kinds with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindExternalTool
	KindParse
	KindIO
	KindValidation
	KindTimeout
	KindEmptyInput
)

// Sentinel errors, one per kind. These can be checked with errors.Is().
var (
	ErrConfiguration = errors.New("configuration error")
	ErrExternalTool  = errors.New("external tool error")
	ErrParse         = errors.New("parse error")
	ErrIO            = errors.New("io error")
	ErrValidation    = errors.New("validation error")
	ErrTimeout       = errors.New("iteration limit exceeded")
	ErrEmptyInput    = errors.New("empty input")
)

var sentinels = map[Kind]error{
	KindConfiguration: ErrConfiguration,
	KindExternalTool:  ErrExternalTool,
	KindParse:         ErrParse,
	KindIO:            ErrIO,
	KindValidation:    ErrValidation,
	KindTimeout:       ErrTimeout,
	KindEmptyInput:    ErrEmptyInput,
}

func (k Kind) String() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "unknown error"
}

// Error is a classified failure from one pipeline stage.
type Error struct {
	Kind  Kind
	Stage string // e.g. "encode", "score", "cleanup"
	Clip  string // clip identifier, empty when not clip-specific
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Clip != "" {
		msg = fmt.Sprintf("%s [clip %s]", msg, e.Clip)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New returns a classified error. err may be nil.
func New(kind Kind, stage, clip string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Clip: clip, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, stage, clip, format string, args ...any) *Error {
	return New(kind, stage, clip, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StageOf returns the stage and clip of the first *Error in err's chain.
func StageOf(err error) (stage, clip string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage, e.Clip
	}
	return "", ""
}

// WithClip returns err annotated with clip when err is an *Error without one.
func WithClip(err error, clip string) error {
	var e *Error
	if errors.As(err, &e) && e.Clip == "" {
		cp := *e
		cp.Clip = clip
		return &cp
	}
	return err
}
