package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

// ErrorKind classifies a failed publish.
type ErrorKind string

const (
	// AuthRejected: the registry refused the credential. Never retried.
	AuthRejected ErrorKind = "auth_rejected"
	// Transient: network blips and temporary unavailability. Retried until
	// the budget runs out; a returned Transient error means it ran out.
	Transient ErrorKind = "transient"
	// Fatal: quota, malformed input, permission on the resource. Never retried.
	Fatal ErrorKind = "fatal"
	// Timeout: the publish stage ran past its deadline.
	Timeout ErrorKind = "timeout"
)

// PublishError is a failed publish of one tag.
type PublishError struct {
	Kind       ErrorKind
	Tag        string
	StatusCode int // HTTP status from the registry, 0 if none
	Attempts   int
	Err        error
}

func (e *PublishError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "publish %s", e.Kind)
	if e.Tag != "" {
		fmt.Fprintf(&b, " (tag %s)", e.Tag)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Classify decides how a pusher error is handled. The returned status is the
// registry's HTTP status when the error carries one.
func Classify(err error) (ErrorKind, int) {
	if err == nil {
		return "", 0
	}

	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind, pe.StatusCode
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, 0
	}
	if errors.Is(err, context.Canceled) {
		return Fatal, 0
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		return classifyStatus(resp), resp.StatusCode
	}

	if errors.Is(err, auth.ErrBasicCredentialNotFound) {
		return AuthRejected, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, 0
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient, 0
	}

	return Fatal, 0
}

func classifyStatus(resp *errcode.ErrorResponse) ErrorKind {
	for _, e := range resp.Errors {
		msg := strings.ToLower(e.Message)
		if e.Code == errcode.ErrorCodeDenied && strings.Contains(msg, "quota") {
			return Fatal
		}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return AuthRejected
	case code == http.StatusForbidden:
		return AuthRejected
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Transient
	case code >= 500:
		return Transient
	default:
		return Fatal
	}
}
