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
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gabriel-vasile/mimetype"

	"github.com/go-kivik/sofa/chttp"
)

// Attachment is the metadata of a file attached to a document, as found in
// the document's _attachments map. The content is fetched separately with
// [Attachment.Fetch] or [DB.GetAttachment].
type Attachment struct {
	// Name is the attachment's file name, which is its key in the
	// _attachments map.
	Name string `json:"-"`

	// DocID is the ID of the document which owns the attachment.
	DocID string `json:"-"`

	ContentType string `json:"content_type"`
	Length      int64  `json:"length,omitempty"`
	Digest      string `json:"digest,omitempty"`
	RevPos      int64  `json:"revpos,omitempty"`

	// Stub is true if the attachment content is not included.
	Stub bool `json:"stub,omitempty"`

	// Data holds the content of an inline attachment, when the document was
	// fetched with the attachments=true parameter.
	Data []byte `json:"data,omitempty"`

	db *DB
}

// Fetch retrieves the attachment content from the database which owns the
// document. The content is fetched independently of the document, so Fetch
// works whether or not the owning document has been materialized. The caller
// must close the returned content.
func (a *Attachment) Fetch(ctx context.Context) (*AttachmentContent, error) {
	if a.db == nil {
		return nil, &Error{Status: http.StatusPreconditionFailed, Message: fmt.Sprintf("sofa: cannot fetch attachment %q", a.Name), Err: ErrDetachedStub}
	}
	return a.db.GetAttachment(ctx, a.DocID, a.Name)
}

// AttachmentContent is the content of an attachment, as returned by the
// server. The caller must call Close when done reading.
type AttachmentContent struct {
	io.ReadCloser

	Name        string
	DocID       string
	ContentType string

	// Length is the content length reported by the server, or -1 if unknown.
	Length int64

	// Digest is the attachment's digest, taken from the ETag header.
	Digest string
}

// Classifier detects the content type of attachment data. head holds the
// first bytes of the content.
type Classifier interface {
	Classify(head []byte) string
}

// ClassifierFunc is an adapter to allow the use of an ordinary function as a
// [Classifier].
type ClassifierFunc func(head []byte) string

// Classify calls f(head).
func (f ClassifierFunc) Classify(head []byte) string {
	return f(head)
}

// classifyLimit is the number of bytes inspected for content detection.
const classifyLimit = 3072

type mimeClassifier struct{}

func (mimeClassifier) Classify(head []byte) string {
	return mimetype.Detect(head).String()
}

func (db *DB) attachmentPath(docID, name string) string {
	return db.docPath(docID) + "/" + chttp.EncodeSegment(name)
}

// GetAttachment fetches the content of the named attachment of a document.
func (db *DB) GetAttachment(ctx context.Context, docID, name string) (*AttachmentContent, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if docID == "" {
		return nil, missingArg("docID")
	}
	if name == "" {
		return nil, missingArg("name")
	}
	resp, err := db.client.transport.DoReq(ctx, http.MethodGet, db.attachmentPath(docID, name), &chttp.Options{Accept: "*/*"})
	if err != nil {
		return nil, err
	}
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	digest, _ := chttp.ETag(resp)
	return &AttachmentContent{
		ReadCloser:  resp.Body,
		Name:        name,
		DocID:       docID,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
		Digest:      digest,
	}, nil
}

// PutAttachment stores content as the named attachment of a document, which
// is created if it does not exist. rev must be the document's current
// revision, or empty for a new document. If contentType is empty, it is
// detected from the content with the client's [Classifier].
func (db *DB) PutAttachment(ctx context.Context, docID, rev, name, contentType string, content io.Reader) (*ServerResponse, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if docID == "" {
		return nil, missingArg("docID")
	}
	if name == "" {
		return nil, missingArg("name")
	}
	if content == nil {
		return nil, missingArg("content")
	}
	if contentType == "" {
		br := bufio.NewReaderSize(content, classifyLimit)
		head, err := br.Peek(classifyLimit)
		if err != nil && err != io.EOF {
			return nil, err
		}
		contentType = db.client.config.Classifier.Classify(head)
		content = br
	}
	opts := &chttp.Options{
		Body:        io.NopCloser(content),
		ContentType: contentType,
		NoGzip:      true,
	}
	if rev != "" {
		opts.Query = url.Values{"rev": {rev}}
	}
	return db.write(ctx, http.MethodPut, db.attachmentPath(docID, name), opts)
}

// DeleteAttachment removes the named attachment from a document. rev must
// be the document's current revision.
func (db *DB) DeleteAttachment(ctx context.Context, docID, rev, name string) (*ServerResponse, error) {
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
	if name == "" {
		return nil, missingArg("name")
	}
	return db.write(ctx, http.MethodDelete, db.attachmentPath(docID, name), &chttp.Options{
		Query: url.Values{"rev": {rev}},
	})
}
