// Package errs provides structured error types and helpers for the mtgate bridge.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a bridge error category.
type Code string

const (
	// CodeConnection indicates an endpoint could not be established.
	CodeConnection Code = "connection_failed"
	// CodeRemoteUnavailable indicates the retry budget on a command was exhausted.
	CodeRemoteUnavailable Code = "remote_unavailable"
	// CodeMalformedReply indicates an acknowledgement-shaped reply that could not be parsed.
	CodeMalformedReply Code = "malformed_reply"
	// CodeTransport indicates an unexpected low-level transport failure.
	CodeTransport Code = "transport"
	// CodeTimeout indicates a receive deadline elapsed with no data.
	CodeTimeout Code = "timeout"
	// CodeProtocol indicates an inbound payload missing required structure.
	CodeProtocol Code = "protocol_error"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeStream indicates a fatal failure on a streaming channel.
	CodeStream Code = "stream_failed"
	// CodeExchange indicates a terminal-side failure reported in a reply.
	CodeExchange Code = "exchange_error"
)

// E captures structured error information produced across the bridge.
type E struct {
	Component string
	Code      Code
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

// WithFields merges the provided diagnostic metadata into the error envelope.
func WithFields(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Fields[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target carries the same bridge error code.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// CodeOf extracts the bridge error code from err, or an empty code when err
// is not a bridge error.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return Code("")
}

// IsCode reports whether err is a bridge error with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTimeout reports whether err represents an elapsed receive deadline.
func IsTimeout(err error) bool {
	return IsCode(err, CodeTimeout)
}
