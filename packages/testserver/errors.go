package testserver

import (
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Use errors.Is against these to classify a failure.
var (
	// ErrBind means the listening address could not be acquired.
	ErrBind = errors.New("bind address")
	// ErrServerStart means the server under test could not start serving.
	ErrServerStart = errors.New("start server")
	// ErrStateLock means the shared server state was poisoned by a panic while locked.
	ErrStateLock = errors.New("server state lock poisoned")
	// ErrCookieParse means a Set-Cookie header could not be parsed.
	ErrCookieParse = errors.New("parse cookie")
	// ErrRequestBuild means the request could not be turned into a valid wire request.
	ErrRequestBuild = errors.New("build request")
	// ErrTransport means the request failed on the wire.
	ErrTransport = errors.New("transport")
	// ErrRequestConsumed is the panic value when a request is sent twice.
	ErrRequestConsumed = errors.New("request already sent")
)

// Error carries the kind of failure, the operation and request path it happened
// on, and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.Path != "" {
		sb.WriteString(" for ")
		sb.WriteString(e.Path)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
