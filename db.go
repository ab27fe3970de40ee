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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kivik/sofa/chttp"
)

// DB is a session bound to a single database. It is obtained from
// [Client.DB], and is safe for concurrent use.
type DB struct {
	client *Client
	name   string
	feed   *changeFeed
}

func newDB(c *Client, name string) *DB {
	db := &DB{
		client: c,
		name:   name,
	}
	db.feed = newChangeFeed(db)
	return db
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Client returns the client which owns this session.
func (db *DB) Client() *Client {
	return db.client
}

func (db *DB) path(path string) string {
	if path == "" {
		return dbPath(db.name)
	}
	return dbPath(db.name) + "/" + strings.TrimPrefix(path, "/")
}

func (db *DB) docPath(docID string) string {
	return db.path(chttp.EncodeDocID(docID))
}

// bootstrap ensures that the database exists, creating it if necessary.
func (db *DB) bootstrap(ctx context.Context) error {
	_, err := db.client.transport.DoError(ctx, http.MethodGet, dbPath(db.name), nil)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = db.client.transport.DoError(ctx, http.MethodPut, dbPath(db.name), nil)
	// Another client may have created the database in the meantime.
	if HTTPStatus(err) == http.StatusPreconditionFailed {
		return nil
	}
	return err
}

// Get fetches the requested document. Any options are sent as query
// parameters; to fetch a specific revision, pass [Rev].
func (db *DB) Get(ctx context.Context, docID string, options ...Option) (*Document, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	return db.get(ctx, docID, options...)
}

func (db *DB) get(ctx context.Context, docID string, options ...Option) (*Document, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	query := url.Values{}
	allOptions(options).Apply(&query)
	doc := &Document{}
	err := db.client.transport.DoJSON(ctx, http.MethodGet, db.docPath(docID), &chttp.Options{Query: query}, doc)
	if err != nil {
		return nil, err
	}
	doc.bind(db)
	return doc, nil
}

// Stub returns a document stub bound to db. No request is made until an
// attribute other than the ID or revision is read. If rev is empty, the
// latest revision is fetched.
func (db *DB) Stub(docID, rev string) *Document {
	return newStub(db, docID, rev)
}

// Save stores doc. A document with an ID is written with PUT, and must carry
// the current revision if it already exists on the server; a document
// without an ID is created with POST and receives a server-assigned ID. On
// success, the new ID and revision are stored in doc.
//
// A stub document is materialized before it is saved.
func (db *DB) Save(ctx context.Context, doc *Document) (*ServerResponse, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if doc == nil {
		return nil, missingArg("doc")
	}
	body, err := doc.encode()
	if err != nil {
		return nil, err
	}
	opts := &chttp.Options{GetBody: chttp.BodyEncoder(body)}
	var res *ServerResponse
	if docID := doc.ID(); docID != "" {
		// The '/' char is only permitted in the case of '_design/'
		if designDoc := strings.TrimPrefix(docID, "_design/"); strings.Contains(designDoc, "/") {
			return nil, &Error{Status: http.StatusBadRequest, Message: "sofa: invalid document ID"}
		}
		res, err = db.write(ctx, http.MethodPut, db.docPath(docID), opts)
	} else {
		res, err = db.write(ctx, http.MethodPost, db.path(""), opts)
	}
	if err != nil {
		return nil, err
	}
	doc.saved(db, res)
	return res, nil
}

// Delete marks the specified document as deleted. rev must be the current
// revision of the document.
func (db *DB) Delete(ctx context.Context, docID, rev string) (*ServerResponse, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if docID == "" {
		return nil, missingArg("docID")
	}
	if rev == "" {
		return nil, missingArg("rev")
	}
	return db.write(ctx, http.MethodDelete, db.docPath(docID), &chttp.Options{
		Query: url.Values{"rev": {rev}},
	})
}

// DeleteDoc deletes doc, using its ID and current revision.
func (db *DB) DeleteDoc(ctx context.Context, doc *Document) (*ServerResponse, error) {
	if doc == nil {
		return nil, missingArg("doc")
	}
	return db.Delete(ctx, doc.ID(), doc.Rev())
}

// BulkSave is not supported, and always returns an error which matches
// [ErrNotImplemented].
func (db *DB) BulkSave(context.Context, ...*Document) ([]*ServerResponse, error) {
	return nil, ErrNotImplemented
}

// UpdateSeq returns the current update sequence of the database.
func (db *DB) UpdateSeq(ctx context.Context) (string, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return "", err
	}
	defer endQuery()
	return db.updateSeq(ctx)
}

func (db *DB) updateSeq(ctx context.Context) (string, error) {
	var info struct {
		UpdateSeq json.RawMessage `json:"update_seq"`
	}
	if err := db.client.transport.DoJSON(ctx, http.MethodGet, db.path(""), nil, &info); err != nil {
		return "", err
	}
	return seqString(info.UpdateSeq), nil
}

// write performs a request which is acknowledged with a [ServerResponse].
func (db *DB) write(ctx context.Context, method, path string, opts *chttp.Options) (*ServerResponse, error) {
	res := &ServerResponse{}
	if err := db.client.transport.DoJSON(ctx, method, path, opts, res); err != nil {
		return nil, err
	}
	return res, nil
}
