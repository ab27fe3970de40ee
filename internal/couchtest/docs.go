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
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gitlab.com/flimzy/httpe"
)

// docID returns the document ID addressed by the request.
func docID(r *http.Request) string {
	if ddoc := param(r, "ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	return param(r, "docid")
}

// readDoc decodes the request body as a JSON object.
func readDoc(r *http.Request) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, errBadJSON
	}
	if doc == nil {
		return nil, badRequest("Document must be a JSON object")
	}
	return doc, nil
}

// revParam returns the revision from the rev query parameter, or the
// document's _rev.
func revParam(r *http.Request, doc map[string]interface{}) string {
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	rev, _ := doc["_rev"].(string)
	return rev
}

func validDocID(id string) error {
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, "_design/") && !strings.HasPrefix(id, "_local/") {
		return badRequest("Only reserved document ids may start with underscore.")
	}
	return nil
}

// newBody builds the body of the next revision from doc. Attachment stubs
// carry over from current; inline attachments are decoded.
func newBody(doc map[string]interface{}, current, next *revision) error {
	next.Body = map[string]interface{}{}
	for k, v := range doc {
		switch k {
		case "_id", "_rev", "_attachments":
			continue
		case "_deleted":
			next.Deleted, _ = v.(bool)
			continue
		}
		next.Body[k] = v
	}
	atts, _ := doc["_attachments"].(map[string]interface{})
	if len(atts) == 0 {
		return nil
	}
	next.Attachments = make(map[string]*file, len(atts))
	for name, v := range atts {
		att, _ := v.(map[string]interface{})
		if stub, _ := att["stub"].(bool); stub {
			if current == nil || current.Attachments[name] == nil {
				return &couchError{status: http.StatusPreconditionFailed, Err: "missing_stub", Reason: "Invalid attachment stub for " + name}
			}
			next.Attachments[name] = current.Attachments[name]
			continue
		}
		encoded, _ := att["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return badRequest("Invalid attachment data for " + name)
		}
		contentType, _ := att["content_type"].(string)
		next.Attachments[name] = newFile(contentType, data, next.ID)
	}
	return nil
}

func (s *Server) writeDoc(w http.ResponseWriter, db *database, id, rev string, doc map[string]interface{}) error {
	if err := validDocID(id); err != nil {
		return err
	}
	next, err := db.update(id, rev, func(current, next *revision) error {
		return newBody(doc, current, next)
	})
	if err != nil {
		return err
	}
	return serveJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"id":  id,
		"rev": next.String(),
	})
}

func (s *Server) postDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		doc, err := readDoc(r)
		if err != nil {
			return err
		}
		id, _ := doc["_id"].(string)
		if id == "" {
			id = randStr()
		}
		return s.writeDoc(w, db, id, revParam(r, doc), doc)
	})
}

func (s *Server) putDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		doc, err := readDoc(r)
		if err != nil {
			return err
		}
		return s.writeDoc(w, db, docID(r), revParam(r, doc), doc)
	})
}

func (s *Server) getDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		id := docID(r)
		rev, err := db.get(id, r.URL.Query().Get("rev"))
		if err != nil {
			return err
		}
		w.Header().Set("ETag", strconv.Quote(rev.String()))
		return serveJSON(w, http.StatusOK, rev.doc(id))
	})
}

func (s *Server) deleteDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		id := docID(r)
		if _, err := db.get(id, ""); err != nil {
			return err
		}
		rev := r.URL.Query().Get("rev")
		if rev == "" {
			return errConflict
		}
		next, err := db.update(id, rev, func(_, next *revision) error {
			next.Deleted = true
			return nil
		})
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":  true,
			"id":  id,
			"rev": next.String(),
		})
	})
}

func (s *Server) getAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		rev, err := db.get(docID(r), r.URL.Query().Get("rev"))
		if err != nil {
			return err
		}
		f, ok := rev.Attachments[param(r, "attname")]
		if !ok {
			return errNoAttName
		}
		w.Header().Set("Content-Type", f.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.Header().Set("ETag", strconv.Quote(f.Digest))
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(f.Data)
		return err
	})
}

func (s *Server) putAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		id := docID(r)
		if err := validDocID(id); err != nil {
			return err
		}
		name := param(r, "attname")
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		contentType := r.Header.Get("Content-Type")
		next, err := db.update(id, r.URL.Query().Get("rev"), func(current, next *revision) error {
			next.Body = map[string]interface{}{}
			next.Attachments = map[string]*file{}
			if current != nil {
				next.Body = current.Body
				for k, v := range current.Attachments {
					next.Attachments[k] = v
				}
			}
			next.Attachments[name] = newFile(contentType, data, next.ID)
			return nil
		})
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusCreated, map[string]interface{}{
			"ok":  true,
			"id":  id,
			"rev": next.String(),
		})
	})
}

func (s *Server) deleteAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		id := docID(r)
		name := param(r, "attname")
		rev := r.URL.Query().Get("rev")
		if rev == "" {
			return errConflict
		}
		next, err := db.update(id, rev, func(current, next *revision) error {
			if current == nil {
				return errMissing
			}
			if _, ok := current.Attachments[name]; !ok {
				return errNoAttName
			}
			next.Body = current.Body
			next.Attachments = map[string]*file{}
			for k, v := range current.Attachments {
				if k != name {
					next.Attachments[k] = v
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":  true,
			"id":  id,
			"rev": next.String(),
		})
	})
}
