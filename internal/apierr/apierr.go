// Package apierr provides the Titan-AAS error taxonomy: structured errors
// that carry an IDTA-style error code, an HTTP status, and an optional
// wrapped cause, so handlers can map any internal failure to a response
// without string-matching error text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a taxonomy entry from the AAS error model.
type Code string

const (
	CodeInvalidIdentifierEncoding Code = "InvalidIdentifierEncoding"
	CodeInvalidDocument           Code = "InvalidDocument"
	CodeNotFound                  Code = "NotFound"
	CodeAlreadyExists             Code = "AlreadyExists"
	CodePreconditionFailed        Code = "PreconditionFailed"
	CodeElementNotFound           Code = "ElementNotFound"
	CodeElementAlreadyExists      Code = "ElementAlreadyExists"
	CodeInvalidPath               Code = "InvalidPath"
	CodeStoreUnavailable          Code = "StoreUnavailable"
	CodeEventBusSaturated         Code = "EventBusSaturated"
	CodeUnauthorized              Code = "Unauthorized"
	CodeForbidden                 Code = "Forbidden"
	CodeInternal                  Code = "Internal"
)

var httpStatus = map[Code]int{
	CodeInvalidIdentifierEncoding: http.StatusBadRequest,
	CodeInvalidDocument:           http.StatusBadRequest,
	CodeNotFound:                  http.StatusNotFound,
	CodeAlreadyExists:             http.StatusConflict,
	CodePreconditionFailed:        http.StatusPreconditionFailed,
	CodeElementNotFound:           http.StatusNotFound,
	CodeElementAlreadyExists:      http.StatusConflict,
	CodeInvalidPath:               http.StatusBadRequest,
	CodeStoreUnavailable:          http.StatusServiceUnavailable,
	CodeEventBusSaturated:         http.StatusServiceUnavailable,
	CodeUnauthorized:              http.StatusUnauthorized,
	CodeForbidden:                 http.StatusForbidden,
	CodeInternal:                  http.StatusInternalServerError,
}

// Error is a structured Titan-AAS error.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value to the error's detail bag and returns it
// for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the status code bound to the error's taxonomy entry.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Constructors for the taxonomy entries named in the spec.

func InvalidIdentifierEncoding(reason string) *Error {
	return New(CodeInvalidIdentifierEncoding, "invalid identifier encoding").WithDetails("reason", reason)
}

func InvalidDocument(reason string) *Error {
	return New(CodeInvalidDocument, "invalid document").WithDetails("reason", reason)
}

func NotFound(entityType, id string) *Error {
	return New(CodeNotFound, "resource not found").WithDetails("entityType", entityType).WithDetails("id", id)
}

func AlreadyExists(entityType, id string) *Error {
	return New(CodeAlreadyExists, "resource already exists").WithDetails("entityType", entityType).WithDetails("id", id)
}

func PreconditionFailed(expected, actual string) *Error {
	return New(CodePreconditionFailed, "etag precondition failed").
		WithDetails("expected", expected).WithDetails("actual", actual)
}

func ElementNotFound(path string) *Error {
	return New(CodeElementNotFound, "element not found").WithDetails("idShortPath", path)
}

func ElementAlreadyExists(path string) *Error {
	return New(CodeElementAlreadyExists, "element already exists").WithDetails("idShortPath", path)
}

func InvalidPath(path, reason string) *Error {
	return New(CodeInvalidPath, "invalid idShortPath").WithDetails("idShortPath", path).WithDetails("reason", reason)
}

func StoreUnavailable(err error) *Error {
	return Wrap(CodeStoreUnavailable, "authoritative store unavailable", err)
}

func EventBusSaturated() *Error {
	return New(CodeEventBusSaturated, "event bus buffer is full")
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// As extracts an *Error from an error chain.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Is reports whether err carries the given taxonomy code anywhere in its chain.
func Is(err error, code Code) bool {
	if e := As(err); e != nil {
		return e.Code == code
	}
	return false
}

// HTTPStatus returns the status for any error, defaulting to 500 for
// untyped errors.
func HTTPStatus(err error) int {
	if e := As(err); e != nil {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Message renders the IDTA-style error body entry for this error.
type Message struct {
	Code        string `json:"code"`
	Text        string `json:"text"`
	MessageType string `json:"messageType"`
}

// MessagesBody wraps one or more Messages in the spec's error body shape.
type MessagesBody struct {
	Messages []Message `json:"messages"`
}

// ToBody renders err as the wire-format error body from spec.md §6.
func ToBody(err error) MessagesBody {
	e := As(err)
	if e == nil {
		return MessagesBody{Messages: []Message{{
			Code:        string(CodeInternal),
			Text:        err.Error(),
			MessageType: "Error",
		}}}
	}
	text := e.Message
	if e.Err != nil {
		text = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return MessagesBody{Messages: []Message{{
		Code:        string(e.Code),
		Text:        text,
		MessageType: "Error",
	}}}
}
