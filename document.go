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
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/icza/dyno"
)

// docState is the variant of a [Document].
type docState int

const (
	// stateInline documents hold their attributes.
	stateInline docState = iota
	// stateStub documents know only their ID and revision. The body is
	// fetched from the owning database on first access.
	stateStub
)

// Document is a CouchDB document: an ID, a revision, a set of attributes,
// and the metadata of its attachments.
//
// A Document is either inline, with its attributes known, or a stub, which
// knows only its ID and revision. Reading any attribute of a stub fetches
// the document body from the database the stub is bound to, exactly once;
// subsequent reads use the fetched body. The ID and revision never trigger
// a fetch. A stub which is not bound to a database returns an error matching
// [ErrDetachedStub] instead.
//
// Methods which may trigger a fetch use a background context. Call
// [Document.Materialize] first to control the request's context.
//
// A Document is safe for concurrent use.
type Document struct {
	mu          sync.Mutex
	state       docState
	id          string
	rev         string
	attrs       map[string]interface{}
	attachments map[string]*Attachment
	db          *DB
}

var (
	_ json.Marshaler   = &Document{}
	_ json.Unmarshaler = &Document{}
)

// NewDocument returns a new inline document with a copy of attrs. The _id
// and _rev keys, if present, set the document ID and revision.
func NewDocument(attrs map[string]interface{}) *Document {
	d := &Document{attrs: make(map[string]interface{}, len(attrs))}
	for k, v := range attrs {
		switch k {
		case "_id":
			d.id, _ = v.(string)
		case "_rev":
			d.rev, _ = v.(string)
		default:
			d.attrs[k] = v
		}
	}
	return d
}

// NewStub returns a stub document which is not bound to any database. Its
// ID and revision may be read, but any other access fails with
// [ErrDetachedStub]. Use [DB.Stub] for a stub which can be materialized.
func NewStub(docID, rev string) *Document {
	return newStub(nil, docID, rev)
}

func newStub(db *DB, docID, rev string) *Document {
	return &Document{
		state: stateStub,
		id:    docID,
		rev:   rev,
		db:    db,
	}
}

// ID returns the document ID, or an empty string if the document has not yet
// been saved and no ID was assigned.
func (d *Document) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// SetID sets the ID of a document which has not yet been stored.
func (d *Document) SetID(docID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rev != "" {
		return &Error{Status: http.StatusBadRequest, Message: "sofa: cannot change the ID of a stored document"}
	}
	d.id = docID
	return nil
}

// Rev returns the document revision.
func (d *Document) Rev() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rev
}

// IsStub returns true if the document body has not been fetched.
func (d *Document) IsStub() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateStub
}

// Materialize fetches the body of a stub document. It is a no-op for an
// inline document. If the fetch fails the document remains a stub, and the
// next access tries again.
func (d *Document) Materialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.materialize(ctx)
}

// materialize must be called with d.mu held.
func (d *Document) materialize(ctx context.Context) error {
	if d.state == stateInline {
		return nil
	}
	if d.db == nil {
		return &Error{Status: http.StatusPreconditionFailed, Message: fmt.Sprintf("sofa: cannot fetch document %q", d.id), Err: ErrDetachedStub}
	}
	var options []Option
	if d.rev != "" {
		options = append(options, Rev(d.rev))
	}
	fetched, err := d.db.Get(ctx, d.id, options...)
	if err != nil {
		return err
	}
	d.rev = fetched.rev
	d.attrs = fetched.attrs
	d.attachments = fetched.attachments
	d.state = stateInline
	return nil
}

// access locks the document and materializes it. The returned function
// unlocks the document.
func (d *Document) access() (unlock func(), _ error) {
	d.mu.Lock()
	if err := d.materialize(context.Background()); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	return d.mu.Unlock, nil
}

// Get returns the value of the named attribute, or nil if it is not set.
func (d *Document) Get(key string) (interface{}, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.attrs[key], nil
}

// Path returns the value found by descending into the document attributes
// along path. Elements of path are map keys (strings) or slice indexes
// (ints).
//
// For example, given a document {"a":{"b":["x","y"]}}, Path("a", "b", 1)
// returns "y".
func (d *Document) Path(path ...interface{}) (interface{}, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if len(path) == 0 {
		return nil, missingArg("path")
	}
	v, err := dyno.Get(d.attrs, path...)
	if err != nil {
		return nil, &Error{Status: http.StatusNotFound, Message: "sofa: path not found", Err: err}
	}
	return v, nil
}

func reservedKey(key string) bool {
	switch key {
	case "_id", "_rev", "_attachments":
		return true
	}
	return false
}

// Set sets the named attribute. The _id, _rev, and _attachments keys are
// managed by the document, and may not be set.
func (d *Document) Set(key string, value interface{}) error {
	if reservedKey(key) {
		return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("sofa: %s may not be set directly", key)}
	}
	unlock, err := d.access()
	if err != nil {
		return err
	}
	defer unlock()
	if d.attrs == nil {
		d.attrs = map[string]interface{}{}
	}
	d.attrs[key] = value
	return nil
}

// Delete removes the named attribute.
func (d *Document) Delete(key string) error {
	unlock, err := d.access()
	if err != nil {
		return err
	}
	defer unlock()
	delete(d.attrs, key)
	return nil
}

// Keys returns the attribute names of the document, in sorted order.
func (d *Document) Keys() ([]string, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	defer unlock()
	keys := make([]string, 0, len(d.attrs))
	for k := range d.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Attachments returns the metadata of the document's attachments, keyed by
// name.
func (d *Document) Attachments() (map[string]*Attachment, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	defer unlock()
	atts := make(map[string]*Attachment, len(d.attachments))
	for name, att := range d.attachments {
		atts[name] = att
	}
	return atts, nil
}

// Attachment returns the metadata of the named attachment.
func (d *Document) Attachment(name string) (*Attachment, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	defer unlock()
	att, ok := d.attachments[name]
	if !ok {
		return nil, &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("sofa: attachment %q not found", name)}
	}
	return att, nil
}

// Decode unmarshals the full document, including _id and _rev, into v.
func (d *Document) Decode(v interface{}) error {
	body, err := d.encode()
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// encode materializes the document and returns its JSON encoding.
func (d *Document) encode() ([]byte, error) {
	unlock, err := d.access()
	if err != nil {
		return nil, err
	}
	body, err := d.marshal()
	unlock()
	if err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Err: err}
	}
	return body, nil
}

// bind attaches the document and its attachments to db.
func (d *Document) bind(db *DB) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.db = db
	for _, att := range d.attachments {
		att.db = db
	}
}

// saved records the result of a successful write of d to db.
func (d *Document) saved(db *DB, res *ServerResponse) {
	d.mu.Lock()
	d.id = res.ID
	d.rev = res.Rev
	d.mu.Unlock()
	d.bind(db)
}

type docHeader struct {
	ID          string                 `json:"_id,omitempty"`
	Rev         string                 `json:"_rev,omitempty"`
	Attachments map[string]*Attachment `json:"_attachments,omitempty"`
}

// MarshalJSON satisfies the json.Marshaler interface. A stub document which
// has not been materialized encodes only its _id and _rev.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.marshal()
}

func (d *Document) marshal() ([]byte, error) {
	doc, err := json.Marshal(docHeader{
		ID:          d.id,
		Rev:         d.rev,
		Attachments: d.attachments,
	})
	if err != nil {
		return nil, err
	}
	if len(d.attrs) == 0 {
		return doc, nil
	}
	data, err := json.Marshal(d.attrs)
	if err != nil {
		return nil, err
	}
	if len(doc) == 2 { // nolint:gomnd
		return data, nil
	}
	doc[len(doc)-1] = ','
	return append(doc, data[1:]...), nil
}

// UnmarshalJSON satisfies the json.Unmarshaler interface. The result is an
// inline document.
func (d *Document) UnmarshalJSON(p []byte) error {
	header := &docHeader{}
	if err := json.Unmarshal(p, header); err != nil {
		return err
	}
	data := make(map[string]interface{})
	if err := json.Unmarshal(p, &data); err != nil {
		return err
	}
	delete(data, "_id")
	delete(data, "_rev")
	delete(data, "_attachments")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateInline
	d.id = header.ID
	d.rev = header.Rev
	d.attrs = data
	d.attachments = header.Attachments
	for name, att := range d.attachments {
		att.Name = name
		att.DocID = header.ID
		att.db = d.db
	}
	return nil
}

// String returns a short description of the document, without fetching it.
func (d *Document) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	b.WriteString(d.id)
	if d.rev != "" {
		b.WriteString("@")
		b.WriteString(d.rev)
	}
	if d.state == stateStub {
		b.WriteString(" (stub)")
	}
	return b.String()
}
