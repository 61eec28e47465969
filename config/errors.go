package config

import (
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
)

const (
	ERROR_CAPACITY = iota
	ERROR_MALFORMED_SPEC
	ERROR_INVALID_INTERVAL
	ERROR_OUT_OF_RANGE
	ERROR_INVALID_ADDRESS
	ERROR_INVALID_LENGTH
	ERROR_EXTERNAL
	ERROR_MISUSE
)

var (
	KindToName = map[int]string{
		ERROR_CAPACITY:         "capacity-exceeded",
		ERROR_MALFORMED_SPEC:   "malformed-spec",
		ERROR_INVALID_INTERVAL: "invalid-interval",
		ERROR_OUT_OF_RANGE:     "out-of-range",
		ERROR_INVALID_ADDRESS:  "invalid-address",
		ERROR_INVALID_LENGTH:   "invalid-length",
		ERROR_EXTERNAL:         "external-failure",
		ERROR_MISUSE:           "misuse",
	}
)

type Error struct {
	EKind int

	InnerErr error
	Message  string

	// Subject is the input fragment, URL or path the error relates to.
	Subject string
}

func (e *Error) Error() string {
	var subject string
	if e.Subject != "" {
		subject = fmt.Sprintf(" %q", e.Subject)
	}

	var err string
	if e.InnerErr != nil {
		err = fmt.Sprintf(": %s", e.InnerErr.Error())
	}

	return fmt.Sprintf("%s%s%s", e.Message, subject, err)
}

func (e *Error) Unwrap() error {
	return e.InnerErr
}

func (e *Error) SetSentryScope(scope *sentry.Scope) {
	scope.SetTag("Type", KindToName[e.EKind])
	if e.Subject != "" {
		scope.SetTag("Subject", e.Subject)
	}
}

func NewError(kind int, subject string, format string, args ...interface{}) *Error {
	return &Error{
		EKind:   kind,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

func WrapExternal(err error, subject string, message string) *Error {
	return &Error{
		EKind:    ERROR_EXTERNAL,
		Subject:  subject,
		Message:  message,
		InnerErr: err,
	}
}

// Kind extracts the error classification, or -1 for foreign errors.
func Kind(err error) int {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.EKind
	}
	return -1
}
