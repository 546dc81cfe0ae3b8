// Copyright 2018 EnMasse authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"net/http"
)

// BridgeError is an error that maps directly onto an HTTP response. Code is
// the HTTP status to respond with and doubles as the error_code field of the
// wire envelope.
type BridgeError struct {
	Code    int
	Message string
}

// Error fullfills the golang error interface
func (e BridgeError) Error() string {
	return e.Message
}

// NewValidationError creates a 400 error for malformed or schema-rejected
// request bodies.
func NewValidationError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusBadRequest,
		Message: fmt.Sprintf(format, values...),
	}
}

// NewSemanticError creates a 422 error for well-formed but forbidden
// payloads.
func NewSemanticError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusUnprocessableEntity,
		Message: fmt.Sprintf(format, values...),
	}
}

// NewConflictError creates a 409 error.
func NewConflictError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusConflict,
		Message: fmt.Sprintf(format, values...),
	}
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf(format, values...),
	}
}

// NewNotAcceptableError creates a 406 error.
func NewNotAcceptableError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusNotAcceptable,
		Message: fmt.Sprintf(format, values...),
	}
}

// NewInternalError creates a 500 error carrying the underlying message
// verbatim.
func NewInternalError(format string, values ...interface{}) BridgeError {
	return BridgeError{
		Code:    http.StatusInternalServerError,
		Message: fmt.Sprintf(format, values...),
	}
}

// AsBridgeError returns err as a BridgeError. Errors that did not originate
// from the bridge are surfaced as 500 with the underlying message untouched.
func AsBridgeError(err error) BridgeError {
	if bridgeErr, isBridgeErr := err.(BridgeError); isBridgeErr {
		return bridgeErr
	}
	return NewInternalError("%s", err.Error())
}
