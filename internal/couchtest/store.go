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

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type file struct {
	ContentType string
	Data        []byte
	Digest      string
	RevPos      int64
}

func newFile(contentType string, data []byte, revPos int64) *file {
	sum := md5.Sum(data)
	return &file{
		ContentType: contentType,
		Data:        data,
		Digest:      "md5-" + base64.StdEncoding.EncodeToString(sum[:]),
		RevPos:      revPos,
	}
}

type revision struct {
	ID          int64
	Rev         string
	Deleted     bool
	Body        map[string]interface{}
	Attachments map[string]*file
}

func (r *revision) String() string {
	return fmt.Sprintf("%d-%s", r.ID, r.Rev)
}

// doc returns the revision as a document body, with attachment stubs.
func (r *revision) doc(docID string) map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Body)+3)
	for k, v := range r.Body {
		doc[k] = v
	}
	doc["_id"] = docID
	doc["_rev"] = r.String()
	if r.Deleted {
		doc["_deleted"] = true
	}
	if len(r.Attachments) > 0 {
		atts := make(map[string]interface{}, len(r.Attachments))
		for name, f := range r.Attachments {
			atts[name] = map[string]interface{}{
				"content_type": f.ContentType,
				"length":       len(f.Data),
				"digest":       f.Digest,
				"revpos":       f.RevPos,
				"stub":         true,
			}
		}
		doc["_attachments"] = atts
	}
	return doc
}

type document struct {
	revs []*revision
	seq  int64
}

func (d *document) latest() *revision {
	return d.revs[len(d.revs)-1]
}

type change struct {
	Seq     int64
	DocID   string
	Rev     string
	Deleted bool
}

type database struct {
	mu      sync.RWMutex
	docs    map[string]*document
	log     []change
	seq     int64
	updated chan struct{}
}

func newDatabase() *database {
	return &database{
		docs:    map[string]*document{},
		updated: make(chan struct{}),
	}
}

// randStr returns 32 random hex characters.
func randStr() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// seqString formats an update sequence the way CouchDB 2.x and later do: an
// opaque string with a numeric prefix.
func seqString(seq int64) string {
	return fmt.Sprintf("%d-g1AAAAFTeJzLYWBg", seq)
}

// parseSeq returns the numeric prefix of a sequence string.
func parseSeq(seq string) (int64, error) {
	prefix, _, _ := strings.Cut(seq, "-")
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: "Malformed sequence supplied in 'since' parameter."}
	}
	return n, nil
}

func (d *database) updateSeq() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seq
}

func (d *database) get(docID, rev string) (*revision, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[docID]
	if !ok {
		return nil, errMissing
	}
	if rev == "" {
		latest := doc.latest()
		if latest.Deleted {
			return nil, errDeleted
		}
		return latest, nil
	}
	for _, r := range doc.revs {
		if r.String() == rev {
			return r, nil
		}
	}
	return nil, errMissing
}

// update stores a new revision of docID, built by fn from the current
// revision, which is nil for a new document. rev must match the current
// revision of a live document.
func (d *database) update(docID, rev string, fn func(current *revision, next *revision) error) (*revision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, exists := d.docs[docID]
	var current *revision
	if exists {
		current = doc.latest()
		if current.Deleted {
			current = nil
		}
	}
	switch {
	case current == nil && rev != "" && (!exists || rev != doc.latest().String()):
		return nil, errConflict
	case current != nil && rev != current.String():
		return nil, errConflict
	}
	next := &revision{
		ID:  1,
		Rev: randStr(),
	}
	if exists {
		next.ID = doc.latest().ID + 1
	}
	if err := fn(current, next); err != nil {
		return nil, err
	}
	if !exists {
		doc = &document{}
		d.docs[docID] = doc
	}
	doc.revs = append(doc.revs, next)
	d.seq++
	doc.seq = d.seq
	d.log = append(d.log, change{Seq: d.seq, DocID: docID, Rev: next.String(), Deleted: next.Deleted})
	close(d.updated)
	d.updated = make(chan struct{})
	return next, nil
}

// changesSince returns the changes after seq, omitting those superseded by
// a later change of the same document, and a channel which is closed on the
// next update.
func (d *database) changesSince(seq int64) ([]change, <-chan struct{}) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var changes []change
	for _, c := range d.log {
		if c.Seq > seq && d.docs[c.DocID].seq == c.Seq {
			changes = append(changes, c)
		}
	}
	return changes, d.updated
}

// liveDocs returns the IDs of documents which are not deleted, in sorted
// order.
func (d *database) liveDocs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.docs))
	for id, doc := range d.docs {
		if !doc.latest().Deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *database) docCount() int {
	return len(d.liveDocs())
}
