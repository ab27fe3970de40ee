// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package errors provides the status-carrying error type shared by the sofa
// packages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error returned by sofa or the transport layer. Every
// error carries an HTTP status, so that callers can distinguish between
// server responses and local failures.
type Error struct {
	// Status is the HTTP status code associated with this error. A zero value
	// is reported as 500.
	Status int

	// Message is a brief description of the error.
	Message string

	// Err is the originating error, if any.
	Err error
}

var _ interface {
	error
	HTTPStatus() int
	Unwrap() error
} = &Error{}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.msg()
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

// HTTPStatus returns the HTTP status code associated with the error, or 500
// (internal server error), if none.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Unwrap satisfies the errors wrapper interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// Format implements [fmt.Formatter]. With the `%+v` verb, the status code is
// included as a prefix.
func (e *Error) Format(f fmt.State, c rune) {
	if c == 'v' && f.Flag('+') {
		_, _ = fmt.Fprintf(f, "%d / %s", e.HTTPStatus(), e.Error())
		return
	}
	_, _ = fmt.Fprint(f, e.Error())
}

func (e *Error) msg() string {
	switch e.Message {
	case "":
		return http.StatusText(e.HTTPStatus())
	default:
		return e.Message
	}
}

// HTTPStatus returns the HTTP status code embedded in the error, or 500
// (internal server error), if there was no specified status code. If err is
// nil, HTTPStatus returns 0.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder interface {
		HTTPStatus() int
	}
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Sentinel errors matched with [errors.Is]. The transport layer reports HTTP
// 404 and 409 responses as errors for which errors.Is(err, ErrNotFound) and
// errors.Is(err, ErrConflict) are true.
var (
	ErrNotFound       = &Error{Status: http.StatusNotFound, Message: "document not found"}
	ErrConflict       = &Error{Status: http.StatusConflict, Message: "document update conflict"}
	ErrInvalidQuery   = &Error{Status: http.StatusBadRequest, Message: "invalid query"}
	ErrDetachedStub   = &Error{Status: http.StatusPreconditionFailed, Message: "stub document has no owning session"}
	ErrNotImplemented = &Error{Status: http.StatusNotImplemented, Message: "not implemented"}
	ErrClientClosed   = &Error{Status: http.StatusServiceUnavailable, Message: "client closed"}
)
