package measure

import (
	"errors"
	"fmt"
)

// ErrBodyRequiresPost is the validation failure for a request body combined
// with any method other than POST. It is raised before any network call.
var ErrBodyRequiresPost = errors.New("body is only supported for POST requests")

// Code identifies an error kind on the wire.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNetwork     Code = "network_error"
	CodeHTTPStatus  Code = "http_status_error"
	CodeTaskFailure Code = "task_failure"
)

// Error is the worker's error envelope. It doubles as the JSON body of a
// failure response and as a typed Go error on the orchestrator side.
type Error struct {
	Code    Code   `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewBadRequest(err error) *Error {
	return &Error{Code: CodeBadRequest, Message: err.Error()}
}

func NewNetworkError(err error) *Error {
	return &Error{Code: CodeNetwork, Message: err.Error()}
}

func NewHTTPStatusError(status int) *Error {
	return &Error{
		Code:    CodeHTTPStatus,
		Message: fmt.Sprintf("target responded with status %d", status),
		Status:  status,
	}
}

func NewTaskFailure(detail string) *Error {
	return &Error{Code: CodeTaskFailure, Message: detail}
}

// IsCode reports whether err carries the given wire error code.
func IsCode(err error, code Code) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}
