package core

import (
	"errors"
	"fmt"
)

// APIError is an error with a stable wire code and the HTTP status it maps
// to. Details, when set, is serialized next to the code.
type APIError struct {
	Code    string
	Status  int
	Details any
	Err     error
}

// NewAPIError creates an APIError wrapping err, which may be nil.
func NewAPIError(status int, code string, err error) *APIError {
	return &APIError{Code: code, Status: status, Err: err}
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return e.Code
	}

	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError extracts an APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	return nil, false
}
