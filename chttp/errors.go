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

package chttp

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	internal "github.com/go-kivik/sofa/internal/errors"
)

// HTTPError is an error that represents an unsuccessful HTTP response.
type HTTPError struct {
	// Response is the HTTP response received by the client.  The response body
	// should already be closed, but the response and request headers and other
	// metadata will typically be in tact for debugging purposes.
	Response *http.Response `json:"-"`

	// Err is the server-supplied error name, such as "not_found" or
	// "conflict".
	Err string `json:"error"`

	// Reason is the server-supplied error reason.
	Reason string `json:"reason"`
}

func (e *HTTPError) Error() string {
	if e.Reason == "" {
		return http.StatusText(e.HTTPStatus())
	}
	if statusText := http.StatusText(e.HTTPStatus()); statusText != "" {
		return fmt.Sprintf("%s: %s", statusText, e.Reason)
	}
	return e.Reason
}

// HTTPStatus returns the embedded status code.
func (e *HTTPError) HTTPStatus() int {
	return e.Response.StatusCode
}

// Is reports whether the error matches one of the status sentinels: a 404
// response matches the not-found sentinel, and a 409 response matches the
// update-conflict sentinel.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case internal.ErrNotFound:
		return e.HTTPStatus() == http.StatusNotFound
	case internal.ErrConflict:
		return e.HTTPStatus() == http.StatusConflict
	}
	return false
}

// Success reports whether status is one of the codes the server uses to
// acknowledge a successful request.
func Success(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}

// ResponseError returns an error from an *http.Response if the status code
// is anything other than 200 (OK) or 201 (Created). The body of an error
// response is consumed and closed.
func ResponseError(resp *http.Response) error {
	if Success(resp.StatusCode) {
		return nil
	}
	if resp.Body != nil {
		defer CloseBody(resp.Body)
	}
	httpErr := &HTTPError{
		Response: resp,
	}
	if resp.Body != nil && resp.Request != nil && resp.Request.Method != http.MethodHead && resp.ContentLength != 0 {
		if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == typeJSON {
			_ = json.NewDecoder(resp.Body).Decode(httpErr)
		}
	}
	return httpErr
}
