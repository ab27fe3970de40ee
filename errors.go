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

package sofa

import (
	"fmt"
	"net/http"

	internal "github.com/go-kivik/sofa/internal/errors"
)

// Error represents an error returned by sofa. Every error carries an HTTP
// status code; errors which did not originate from a server response use
// 502 (Bad Gateway) for transport failures and 500 for anything else.
type Error = internal.Error

// Errors which may be matched with [errors.Is].
var (
	// ErrNotFound matches a 404 (Not Found) response from the server.
	ErrNotFound = internal.ErrNotFound

	// ErrConflict matches a 409 (Conflict) response, which the server sends
	// when a write specifies a stale revision.
	ErrConflict = internal.ErrConflict

	// ErrInvalidQuery is returned when a view query cannot be encoded.
	ErrInvalidQuery = internal.ErrInvalidQuery

	// ErrDetachedStub is returned when a stub document or attachment, which
	// is not bound to any database, needs to fetch its content.
	ErrDetachedStub = internal.ErrDetachedStub

	// ErrNotImplemented is returned by operations which are declared but not
	// supported.
	ErrNotImplemented = internal.ErrNotImplemented

	// ErrClientClosed is returned by any operation on a closed client.
	ErrClientClosed = internal.ErrClientClosed
)

// HTTPStatus returns the HTTP status code embedded in the error, or 500
// (internal server error), if there was no specified status code. If err is
// nil, HTTPStatus returns 0. This provides a convenient way to determine the
// precise nature of an error.
//
// For example, to panic for all but NotFound errors:
//
//	doc, err := db.Get(ctx, "docID")
//	if sofa.HTTPStatus(err) == http.StatusNotFound {
//	    return
//	}
//	if err != nil {
//	    panic(err)
//	}
func HTTPStatus(err error) int {
	return internal.HTTPStatus(err)
}

func missingArg(arg string) error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("sofa: %s required", arg)}
}

func invalidQuery(format string, args ...interface{}) error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...), Err: ErrInvalidQuery}
}
