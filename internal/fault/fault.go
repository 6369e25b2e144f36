package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller recovery strategy.
type Kind string

const (
	// KindValidation marks bad input. Never retried.
	KindValidation Kind = "validation"
	// KindIntegration marks a persistence or provider failure. Retryable by the caller.
	KindIntegration Kind = "integration"
	// KindNotFound marks an unknown identifier. Never retried.
	KindNotFound Kind = "not_found"
)

// Error is a classified error carrying enough context to pick a
// recovery strategy without parsing the message.
type Error struct {
	Kind      Kind
	Op        string
	TaskID    string
	RuleID    string
	RequestID string
	Channel   string
	Stage     string
	Err       error
	msg       string
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation creates a validation error.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, msg: msg}
}

// NotFound creates a not-found error.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, msg: msg}
}

// Integration wraps an underlying failure as retryable.
func Integration(op string, err error) *Error {
	return &Error{Kind: KindIntegration, Op: op, Err: err}
}

// WithTask attaches a task id.
func (e *Error) WithTask(id string) *Error { e.TaskID = id; return e }

// WithRule attaches a rule id.
func (e *Error) WithRule(id string) *Error { e.RuleID = id; return e }

// WithRequest attaches an approval request id.
func (e *Error) WithRequest(id string) *Error { e.RequestID = id; return e }

// WithChannel attaches a notification channel name.
func (e *Error) WithChannel(name string) *Error { e.Channel = name; return e }

// WithStage attaches a provider stage (timeout, provider, malformed_output).
func (e *Error) WithStage(stage string) *Error { e.Stage = stage; return e }

// Wrap attaches an underlying error, usually a sentinel for errors.Is.
func (e *Error) Wrap(err error) *Error { e.Err = err; return e }

// KindOf extracts the Kind of err, or empty when err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation fault.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsIntegration reports whether err is an integration fault.
func IsIntegration(err error) bool { return KindOf(err) == KindIntegration }

// IsNotFound reports whether err is a not-found fault.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
