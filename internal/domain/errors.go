package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Failure taxonomy. Failures are isolated to the smallest unit possible:
// a record (validation), a dataset (source rejection), or the job (fatal).
var (
	ErrTransient       = errors.New("transient failure")
	ErrSourceRejection = errors.New("dataset unsupported by source")
	ErrValidation      = errors.New("record validation failed")
	ErrFatal           = errors.New("fatal failure")
)

// ErrorKind is the taxonomy bucket of an error.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindSourceRejection ErrorKind = "source_rejection"
	KindValidation      ErrorKind = "validation"
	KindFatal           ErrorKind = "fatal"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindSourceRejection:
		return ErrSourceRejection
	case KindValidation:
		return ErrValidation
	}
	return ErrFatal
}

// SourceError is an error reported by an external API (billing source, language model, mail relay).
type SourceError struct {
	Op         string
	StatusCode int
	Code       string
	Kind       ErrorKind
	Err        error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the cause and the taxonomy sentinel so errors.Is works for either.
func (e *SourceError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewSourceError builds a SourceError whose kind is derived from the HTTP status and error code.
func NewSourceError(op string, status int, code string, err error) *SourceError {
	return &SourceError{
		Op:         op,
		StatusCode: status,
		Code:       code,
		Kind:       KindForStatus(status, code),
		Err:        err,
	}
}

// unsupportedCodes are error codes a source uses to say a dataset does not apply to a subscription.
var unsupportedCodes = []string{"unsupported", "notsupported", "dataunavailable", "notavailable"}

// IsUnsupportedCode reports whether an API error code names an unsupported dataset.
func IsUnsupportedCode(code string) bool {
	c := strings.ToLower(code)
	for _, u := range unsupportedCodes {
		if strings.Contains(c, u) {
			return true
		}
	}
	return false
}

// KindForStatus classifies an HTTP status and optional API error code.
// 429 and 5xx are transient; 404, 422 or an unsupported-dataset code are source
// rejections; every other 4xx is fatal.
func KindForStatus(status int, code string) ErrorKind {
	if code != "" && IsUnsupportedCode(code) {
		return KindSourceRejection
	}
	switch {
	case status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500 && status <= 599:
		return KindTransient
	case status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return KindSourceRejection
	case status >= 400 && status <= 499:
		return KindFatal
	}
	return KindFatal
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrSourceRejection):
		return KindSourceRejection
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindFatal
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindFatal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
