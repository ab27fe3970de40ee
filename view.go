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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// ViewResult is the result of a view query. Rows are decoded from the raw
// response on first access, and cached.
type ViewResult struct {
	// TotalRows is the number of rows in the view, before skip and limit
	// are applied. It is zero for reduced results.
	TotalRows int64 `json:"total_rows"`

	// Offset is the offset of the first returned row within the view.
	Offset int64 `json:"offset"`

	// RawRows holds the undecoded rows array.
	RawRows json.RawMessage `json:"rows"`

	db   *DB
	once sync.Once
	rows []*Row
	err  error
}

// Rows returns the result rows, in the order returned by the server.
func (r *ViewResult) Rows() ([]*Row, error) {
	r.once.Do(func() {
		if len(r.RawRows) == 0 {
			return
		}
		if err := json.Unmarshal(r.RawRows, &r.rows); err != nil {
			r.err = &Error{Status: http.StatusBadGateway, Err: err}
			return
		}
		for _, row := range r.rows {
			row.db = r.db
		}
	})
	return r.rows, r.err
}

// Len returns the number of rows in the result.
func (r *ViewResult) Len() (int, error) {
	rows, err := r.Rows()
	return len(rows), err
}

// Row is a single row of a [ViewResult].
type Row struct {
	// ID is the ID of the document which emitted the row. It is empty for
	// reduced results.
	ID string `json:"id,omitempty"`

	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`

	// Doc is the included document, if the query set include_docs.
	Doc json.RawMessage `json:"doc,omitempty"`

	// Error is set for rows which refer to a missing document, such as
	// _all_docs queried with keys.
	Error string `json:"error,omitempty"`

	db *DB
}

// ScanKey copies the row key into the value pointed at by dest. Think of
// this as a json.Unmarshal into dest.
func (r *Row) ScanKey(dest interface{}) error {
	return r.scan(r.Key, dest)
}

// ScanValue copies the row value into the value pointed at by dest.
func (r *Row) ScanValue(dest interface{}) error {
	return r.scan(r.Value, dest)
}

// ScanDoc copies the included document into the value pointed at by dest.
func (r *Row) ScanDoc(dest interface{}) error {
	if isNull(r.Doc) {
		return &Error{Status: http.StatusBadRequest, Message: "sofa: doc is nil; does the query include docs?"}
	}
	return r.scan(r.Doc, dest)
}

func (r *Row) scan(raw json.RawMessage, dest interface{}) error {
	if r.Error != "" {
		return &Error{Status: http.StatusNotFound, Message: r.Error}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &Error{Status: http.StatusBadRequest, Err: err}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// docRef is a value which refers to a document, such as the value emitted
// by _all_docs, or by a view which emits {"_id": ...}.
type docRef struct {
	ID     string `json:"_id"`
	Rev    string `json:"_rev"`
	AltRev string `json:"rev"`
}

// Document returns the document of the row. An included document is
// returned inline. Otherwise a stub, bound to the queried database, is
// returned: the stub uses the ID and revision of a value which refers to a
// document, and falls back to the row ID. Rows of a reduced result refer
// to no document, and return an error.
func (r *Row) Document() (*Document, error) {
	if r.Error != "" {
		return nil, &Error{Status: http.StatusNotFound, Message: r.Error}
	}
	if !isNull(r.Doc) {
		doc := &Document{}
		if err := json.Unmarshal(r.Doc, doc); err != nil {
			return nil, &Error{Status: http.StatusBadGateway, Err: err}
		}
		doc.bind(r.db)
		return doc, nil
	}
	if ref, ok := r.valueRef(); ok {
		docID := ref.ID
		if docID == "" {
			docID = r.ID
		}
		rev := ref.Rev
		if rev == "" {
			rev = ref.AltRev
		}
		return newStub(r.db, docID, rev), nil
	}
	if r.ID == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "sofa: row does not refer to a document"}
	}
	return newStub(r.db, r.ID, ""), nil
}

// valueRef decodes the row value as a document reference. A value is a
// reference if it is an object with an _id, _rev, or rev field.
func (r *Row) valueRef() (*docRef, bool) {
	value := bytes.TrimSpace(r.Value)
	if len(value) == 0 || value[0] != '{' {
		return nil, false
	}
	ref := &docRef{}
	if err := json.Unmarshal(value, ref); err != nil {
		return nil, false
	}
	if ref.ID == "" && ref.Rev == "" && ref.AltRev == "" {
		return nil, false
	}
	return ref, true
}

// Query executes the view query q against the database.
func (db *DB) Query(ctx context.Context, q *ViewQuery) (*ViewResult, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if q == nil {
		return nil, missingArg("query")
	}
	path, err := q.Path()
	if err != nil {
		return nil, err
	}
	result := &ViewResult{db: db}
	if err := db.client.transport.DoJSON(ctx, http.MethodGet, db.path(path), nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// String returns the row ID and key.
func (r *Row) String() string {
	return fmt.Sprintf("%s %s", r.ID, r.Key)
}
