// Package apperr defines the error taxonomy shared by the HTTP layer, the
// gateway adapters and the reconciliation engine. Each error carries a
// machine-readable code and the HTTP status it maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a standardized error classification.
type Code struct {
	Code    string
	Status  int
	Message string // default public message
}

var (
	CodeValidation     = Code{Code: "VALIDATION", Status: http.StatusBadRequest, Message: "invalid input"}
	CodeOrderNotFound  = Code{Code: "ORDER_NOT_FOUND", Status: http.StatusNotFound, Message: "order not found"}
	CodeAmbiguousOrder = Code{Code: "AMBIGUOUS_ORDER", Status: http.StatusBadRequest, Message: "order reference is ambiguous"}
	CodeGateway        = Code{Code: "GATEWAY_ERROR", Status: http.StatusBadGateway, Message: "payment gateway error"}
	CodeUnsupported    = Code{Code: "UNSUPPORTED_OPERATION", Status: http.StatusUnprocessableEntity, Message: "operation not supported by gateway"}
	CodePersistence    = Code{Code: "PERSISTENCE_ERROR", Status: http.StatusInternalServerError, Message: "database write failed"}
	CodeNotification   = Code{Code: "NOTIFICATION_DELIVERY", Status: http.StatusBadGateway, Message: "downstream notification failed"}
)

// Error is an application error with a code and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with an explicit code, message and cause.
func New(code Code, msg string, cause error) *Error {
	if msg == "" {
		msg = code.Message
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...), nil)
}

func OrderNotFound(ref string) *Error {
	return New(CodeOrderNotFound, fmt.Sprintf("no order matches reference %q", ref), nil)
}

func AmbiguousOrder(prefix string, matches int) *Error {
	return New(CodeAmbiguousOrder, fmt.Sprintf("reference %q matches %d orders", prefix, matches), nil)
}

func Gateway(gateway string, cause error) *Error {
	return New(CodeGateway, fmt.Sprintf("gateway %s call failed", gateway), cause)
}

func Unsupported(gateway, operation string) *Error {
	return New(CodeUnsupported, fmt.Sprintf("gateway %s does not support %s", gateway, operation), nil)
}

func Persistence(cause error) *Error {
	return New(CodePersistence, "", cause)
}

func NotificationDelivery(attempts int, cause error) *Error {
	return New(CodeNotification, fmt.Sprintf("notification failed after %d attempts", attempts), cause)
}

// As unwraps err into an *Error when possible.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code.Code == code.Code
}

// HTTPStatus maps err to the HTTP status it should surface as. Unknown
// errors map to 500.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Code.Status
	}
	return http.StatusInternalServerError
}
