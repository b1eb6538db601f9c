package common

import "net/http"

// AppError is an error that carries its own API code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status returns HTTPStatus, defaulting to 400.
func (e *AppError) Status() int {
	if e == nil || e.HTTPStatus == 0 {
		return http.StatusBadRequest
	}
	return e.HTTPStatus
}

// Validation builds a 400 VALIDATION_ERROR keyed by field name.
func Validation(message string, fields map[string]string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: message, HTTPStatus: http.StatusBadRequest, Details: fields}
}

// WriteAppError renders e with the canonical error shape.
func WriteAppError(w http.ResponseWriter, e *AppError) {
	JSONError(w, e.Status(), e.Code, e.Message, e.Details)
}
