// Package fault defines the failure taxonomy shared by the orchestration
// engine.
//
// Every failure carries a Kind with a stable machine-readable code next to its
// human-readable message. The message is what the surrounding shell shows
// verbatim; the code is what callers branch on:
//
//	if errors.Is(err, fault.HostsUpdateFailed) {
//	    // offer the manual line to the user
//	}
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	ConfigurationError
	DownloadFailed
	ExtractionFailed
	ProcessStartError
	CommandFailed
	HostsUpdateFailed
	TemplateProcessingError
	PrivilegeRequired
	UninstallFailed
)

var codes = map[Kind]string{
	Unknown:                 "unknown",
	ConfigurationError:      "configuration_error",
	DownloadFailed:          "download_failed",
	ExtractionFailed:        "extraction_failed",
	ProcessStartError:       "process_start_error",
	CommandFailed:           "command_failed",
	HostsUpdateFailed:       "hosts_update_failed",
	TemplateProcessingError: "template_processing_error",
	PrivilegeRequired:       "privilege_required",
	UninstallFailed:         "uninstall_failed",
}

// Code returns the machine-readable code of the kind.
func (k Kind) Code() string {
	if c, ok := codes[k]; ok {
		return c
	}
	return codes[Unknown]
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return k.Code()
}

// Error makes a bare Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return k.Code()
}

// Error is a classified failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op is the operation that failed, e.g. "install" or "hosts".
	Op string
	// Path is the file, URL or command involved, if any.
	Path string
	// Msg is the human-readable message.
	Msg string
	// Err is the underlying error.
	Err error
}

// Error returns the human-readable message.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same Kind, or an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// New returns a classified error with a formatted message.
func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op, path string, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
