// Package classify maps raw transport, storage and local file errors onto a
// small set of kinds that drive retry decisions and user-facing messages.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/minio/minio-go/v7"
)

// Kind is the coarse error category.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is safe to show to end users;
// Detail keeps the raw error text for logs only.
type Error struct {
	Kind       Kind
	Reason     Reason
	Retryable  bool
	StatusCode int
	Message    string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Conflict reports whether the remote side answered 409, meaning the object
// is already there.
func (e *Error) Conflict() bool {
	return e != nil && e.StatusCode == http.StatusConflict
}

// StatusCoder is implemented by errors that carry an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// httpStatusCoder matches smithy-go response errors from the AWS SDK.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// NewValidation builds a validation error from the message catalog.
func NewValidation(reason Reason, params Params, detail string) *Error {
	return &Error{
		Kind:    KindValidation,
		Reason:  reason,
		Message: Message(reason, params),
		Detail:  detail,
	}
}

// Classify maps err onto a classified Error. It returns nil for nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	detail := err.Error()

	if status := statusOf(err); status != 0 {
		return fromStatus(status, err, detail)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &Error{Kind: KindNetwork, Reason: ReasonTimeout, Retryable: true,
			Message: Message(ReasonTimeout, nil), Detail: detail, Err: err}
	case isNetwork(err):
		return &Error{Kind: KindNetwork, Reason: ReasonNetwork, Retryable: true,
			Message: Message(ReasonNetwork, nil), Detail: detail, Err: err}
	case errors.Is(err, os.ErrNotExist):
		return &Error{Kind: KindValidation, Reason: ReasonNotFound,
			Message: Message(ReasonNotFound, nil), Detail: detail, Err: err}
	case errors.Is(err, os.ErrPermission):
		return &Error{Kind: KindValidation, Reason: ReasonPermission,
			Message: Message(ReasonPermission, nil), Detail: detail, Err: err}
	}

	return &Error{Kind: KindUnknown, Reason: ReasonUnknown,
		Message: Message(ReasonUnknown, nil), Detail: detail, Err: err}
}

func fromStatus(status int, err error, detail string) *Error {
	e := &Error{Kind: KindServer, StatusCode: status, Detail: detail, Err: err}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e.Reason = ReasonServer
		e.Retryable = true
	case status == http.StatusConflict:
		e.Reason = ReasonDuplicate
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Reason = ReasonPermission
	default:
		e.Reason = ReasonServer
	}
	e.Message = Message(e.Reason, nil)

	return e
}

func statusOf(err error) int {
	var me minio.ErrorResponse
	if errors.As(err, &me) && me.StatusCode != 0 {
		return me.StatusCode
	}

	var hs httpStatusCoder
	if errors.As(err, &hs) {
		return hs.HTTPStatusCode()
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}

	return 0
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// *url.Error only counts through what it wraps
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
