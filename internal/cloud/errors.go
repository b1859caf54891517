package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Категории ошибок облачного анализа
var (
	ErrCloudDisabled     = errors.New("cloud analysis disabled")
	ErrInsufficientData  = errors.New("insufficient data for cloud analysis")
	ErrInvalidCredential = errors.New("invalid cloud credential")
	ErrNetwork           = errors.New("cloud network error")
	ErrServer            = errors.New("cloud server error")
	ErrRateLimited       = errors.New("cloud rate limit exceeded")
	ErrTimeout           = errors.New("cloud request timed out")
	ErrUnknown           = errors.New("unknown cloud error")
)

// DisabledCode код ответа сервиса, если облачный анализ отключен для аккаунта
const DisabledCode = "cloud_disabled"

// Error ошибка вызова облака. Сопоставляется с категорией через errors.Is.
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("cloud %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is сопоставляет ошибку с категорией
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap возвращает исходную ошибку транспорта
func (e *Error) Unwrap() error {
	return e.Err
}

// Reason короткая метка категории для метрик и логов
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCloudDisabled):
		return "disabled"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

// apiError тело ответа об ошибке
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func statusError(op string, status int, body *apiError) *Error {
	e := &Error{Op: op, StatusCode: status}
	if body != nil && body.Message != "" {
		e.Err = errors.New(body.Message)
	}
	disabled := body != nil && body.Code == DisabledCode

	switch {
	case disabled && (status == http.StatusForbidden || status == http.StatusConflict || status == http.StatusUnavailableForLegalReasons):
		e.Kind = ErrCloudDisabled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = ErrInvalidCredential
	case status == http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
	case status == http.StatusUnprocessableEntity:
		e.Kind = ErrInsufficientData
	case status >= http.StatusInternalServerError:
		e.Kind = ErrServer
	default:
		e.Kind = ErrUnknown
	}
	return e
}

func transportError(op string, err error) *Error {
	e := &Error{Op: op, Err: err}

	var netErr net.Error
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = ErrTimeout
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		e.Kind = ErrUnknown
	default:
		e.Kind = ErrNetwork
	}
	return e
}
