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

package couchtest

import "net/http"

type couchError struct {
	status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *couchError) Error() string {
	return e.Reason
}

func (e *couchError) HTTPStatus() int {
	return e.status
}

var (
	errMissing     = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing"}
	errDeleted     = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "deleted"}
	errNoDB        = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Database does not exist."}
	errDBExists    = &couchError{status: http.StatusPreconditionFailed, Err: "file_exists", Reason: "The database could not be created, the file already exists."}
	errConflict    = &couchError{status: http.StatusConflict, Err: "conflict", Reason: "Document update conflict."}
	errBadJSON     = &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: "invalid UTF-8 JSON"}
	errNoAttName   = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Document is missing attachment"}
	errMissingView = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing_named_view"}
)

func badRequest(reason string) error {
	return &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: reason}
}
