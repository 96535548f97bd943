package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 错误码
const (
	MalformedEvent      = 1001
	NotFound            = 1004
	ConnectionClosed    = 1010
	InvalidState        = 1011
	TokenInvalid        = 1401
	ServerInternalError = 1500
	External            = 1501
)

var (
	ErrMalformedEvent   = NewCodeError(MalformedEvent, "malformed event")
	ErrNotFound         = NewCodeError(NotFound, "not found")
	ErrConnectionClosed = NewCodeError(ConnectionClosed, "connection closed")
	ErrInvalidState     = NewCodeError(InvalidState, "invalid state")
	ErrTokenInvalid     = NewCodeError(TokenInvalid, "token invalid")
	ErrInternal         = NewCodeError(ServerInternalError, "internal error")
	ErrExternal         = NewCodeError(External, "external failure")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack trace.
func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

func (e CodeError) WrapMsg(msg string, kv ...any) error {
	if msg != "" || len(kv) > 0 {
		e = e.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(e)
}

// Is matches any CodeError carrying the same code, so errors.Is(err, ErrNotFound)
// holds for every detail variant.
func (e CodeError) Is(target error) bool {
	switch t := target.(type) {
	case CodeError:
		return e.Code == t.Code
	case *CodeError:
		return t != nil && e.Code == t.Code
	}
	return false
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// As extracts the CodeError in err's chain.
func As(err error) (CodeError, bool) {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return CodeError{}, false
}

// Code returns the code carried by err, ServerInternalError when there is none.
func Code(err error) int {
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerInternalError
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
