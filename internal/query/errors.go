package query

import "fmt"

// ErrorKind classifies an execution failure. Every stage of the pipeline
// surfaces its failures as []*Error so that queries and subscriptions present
// one uniform error shape to callers.
type ErrorKind string

const (
	// KindValidation: the query is malformed or exceeds a static limit.
	KindValidation ErrorKind = "VALIDATION"
	// KindConstraint: the requested snapshot is invalid or unresolvable.
	KindConstraint ErrorKind = "CONSTRAINT"
	// KindBind: no resolver could be bound for the snapshot; may succeed later.
	KindBind ErrorKind = "BIND"
	// KindExecution: a field failed during resolution.
	KindExecution ErrorKind = "EXECUTION"
	// KindTimeout: the execution deadline was exceeded.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindStream: one subscription cycle failed; the stream stays open.
	KindStream ErrorKind = "STREAM"
)

// Error is one execution error. Path locates the failing field for
// execution-stage errors and is empty for pre-execution failures.
type Error struct {
	Kind    ErrorKind `json:"-"`
	Message string    `json:"message"`
	Path    []any     `json:"path,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// MarshalExtensions returns the error's extensions map for the wire shape.
func (e *Error) MarshalExtensions() map[string]any {
	return map[string]any{"code": string(e.Kind)}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Constraintf(format string, args ...any) *Error {
	return &Error{Kind: KindConstraint, Message: fmt.Sprintf(format, args...)}
}

func Bindf(format string, args ...any) *Error {
	return &Error{Kind: KindBind, Message: fmt.Sprintf(format, args...)}
}

func Executionf(format string, args ...any) *Error {
	return &Error{Kind: KindExecution, Message: fmt.Sprintf(format, args...)}
}

func Timeoutf(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func Streamf(format string, args ...any) *Error {
	return &Error{Kind: KindStream, Message: fmt.Sprintf(format, args...)}
}
