package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Error codes grouped by failure class. Application-level failures
// (1xxx) are terminal and reported once; infrastructure failures (2xxx)
// are retried or degraded at the boundary that observes them.
const (
	CodeAuth          = 1001
	CodeAccessDenied  = 1002
	CodeValidation    = 1003
	CodeBrokerDown    = 2001
	CodePersistence   = 2002
	CodePresenceStore = 2003
)

var (
	ErrAuth          = NewCodeError(CodeAuth, "authentication failed")
	ErrAccessDenied  = NewCodeError(CodeAccessDenied, "access denied")
	ErrValidation    = NewCodeError(CodeValidation, "invalid request")
	ErrBrokerDown    = NewCodeError(CodeBrokerDown, "message broker unavailable")
	ErrPersistence   = NewCodeError(CodePersistence, "persistence failed")
	ErrPresenceStore = NewCodeError(CodePresenceStore, "presence store unavailable")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail returns a copy carrying extra context; the original
// sentinel stays untouched so errors.Is keeps matching.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return e.Code == ce.Code
}

// HTTPStatus maps a taxonomy code onto the HTTP status an API boundary
// should answer with. Unclassified errors are treated as internal.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeBrokerDown, CodePresenceStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the taxonomy code from err, or 0 when err carries none.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
