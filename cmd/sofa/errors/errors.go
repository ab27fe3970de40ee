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

// Package errors maps sofa command failures to process exit codes.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Exit codes. Codes 10 through 29 are HTTP 4xx statuses less 390.
const (
	// ErrUsage indicates an incorrect command, flag, or configuration.
	ErrUsage = 2
	// ErrUnknown indicates an unexpected HTTP status, other than 500.
	ErrUnknown = 3
	// ErrInternalServerError indicates a 500 response.
	ErrInternalServerError = 4

	ErrBadRequest         = 10
	ErrUnauthorized       = 11
	ErrNotFound           = 14
	ErrConflict           = 19
	ErrPreconditionFailed = 22

	// ErrData indicates malformed input, such as invalid JSON or YAML.
	ErrData = 65
	// ErrNoInput indicates an input file which cannot be read.
	ErrNoInput = 66
	// ErrUnavailable indicates the server could not be reached.
	ErrUnavailable = 69
	// ErrCantCreate indicates an output file which cannot be created.
	ErrCantCreate = 73
	// ErrIO indicates an I/O failure.
	ErrIO = 74
	// ErrProtocol indicates an unparseable server response.
	ErrProtocol = 76
)

type statusErr struct {
	error
	code int
}

func (e *statusErr) Unwrap() error {
	return e.error
}

func (e *statusErr) ExitStatus() int {
	return e.code
}

// WithCode attaches an exit code to err.
func WithCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &statusErr{error: err, code: code}
}

// Code returns an error with the exit code. err may be an error, or values
// which are formatted with fmt.Sprint. A single nil error yields nil.
func Code(code int, err ...interface{}) error {
	if len(err) == 1 {
		if err[0] == nil {
			return nil
		}
		if e, ok := err[0].(error); ok {
			return WithCode(e, code)
		}
	}
	return &statusErr{error: errors.New(fmt.Sprint(err...)), code: code}
}

// Codef returns a formatted error with the exit code.
func Codef(code int, format string, args ...interface{}) error {
	return &statusErr{error: fmt.Errorf(format, args...), code: code}
}

// InspectErrorCode returns the exit code for err, or 0 if none can be
// determined.
func InspectErrorCode(err error) int {
	if err == nil {
		return 0
	}
	exitErr := new(statusErr)
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnavailable
	}
	jsonSyntax := new(json.SyntaxError)
	if errors.As(err, &jsonSyntax) {
		return ErrProtocol
	}
	var statusErr interface {
		HTTPStatus() int
	}
	if errors.As(err, &statusErr) {
		return fromHTTPStatus(statusErr.HTTPStatus())
	}
	return 0
}

func fromHTTPStatus(status int) int {
	switch {
	case status == http.StatusInternalServerError:
		return ErrInternalServerError
	case status == http.StatusBadGateway:
		return ErrUnavailable
	case status >= 400 && status < 500:
		return status - 390 // nolint:gomnd
	default:
		return ErrUnknown
	}
}
