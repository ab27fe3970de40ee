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

// Package couchtest provides an in-memory CouchDB server for tests. It
// implements the subset of the CouchDB HTTP API used by sofa: databases,
// documents, attachments, views backed by Go map functions, _all_docs, and
// the continuous change feed.
package couchtest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gitlab.com/flimzy/httpe"
)

// Server is an in-memory CouchDB server.
type Server struct {
	mux *chi.Mux

	mu        sync.Mutex
	dbs       map[string]*database
	views     map[string]*view
	requests  map[string]int
	drops     map[string]int
	feedBatch int
}

// Option configures a [Server].
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) apply(s *Server) { f(s) }

// FeedBatch makes the server close each continuous change feed connection
// with a last_seq record after n changes, as CouchDB does when a feed
// times out. The client must then resume from last_seq.
func FeedBatch(n int) Option {
	return optionFunc(func(s *Server) {
		s.feedBatch = n
	})
}

// New returns a new server.
func New(options ...Option) *Server {
	s := &Server{
		mux:      chi.NewMux(),
		dbs:      map[string]*database{},
		views:    map[string]*view{},
		requests: map[string]int{},
		drops:    map[string]int{},
	}
	for _, option := range options {
		option.apply(s)
	}
	s.routes(s.mux)
	return s
}

// Serve starts an HTTP server for s, which is closed when the test ends.
func (s *Server) Serve(tb testing.TB) *httptest.Server {
	tb.Helper()
	ts := httptest.NewServer(s)
	tb.Cleanup(ts.Close)
	return ts
}

func (s *Server) routes(mux *chi.Mux) {
	mux.Use(
		s.recordRequests,
		s.dropConnections,
		gunzipBody,
		httpe.ToMiddleware(s.handleErrors),
	)
	mux.Get("/", httpe.ToHandler(s.root()).ServeHTTP)
	mux.Get("/_all_dbs", httpe.ToHandler(s.allDBs()).ServeHTTP)
	mux.Post("/_session", httpe.ToHandler(s.session()).ServeHTTP)

	mux.Get("/{db}", httpe.ToHandler(s.getDB()).ServeHTTP)
	mux.Head("/{db}", httpe.ToHandler(s.getDB()).ServeHTTP)
	mux.Put("/{db}", httpe.ToHandler(s.createDB()).ServeHTTP)
	mux.Delete("/{db}", httpe.ToHandler(s.deleteDB()).ServeHTTP)
	mux.Post("/{db}", httpe.ToHandler(s.postDoc()).ServeHTTP)
	mux.Get("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	mux.Get("/{db}/_changes", httpe.ToHandler(s.changes()).ServeHTTP)
	mux.Get("/{db}/_design/{ddoc}/_view/{view}", httpe.ToHandler(s.query()).ServeHTTP)

	mux.Get("/{db}/_design/{ddoc}", httpe.ToHandler(s.getDoc()).ServeHTTP)
	mux.Put("/{db}/_design/{ddoc}", httpe.ToHandler(s.putDoc()).ServeHTTP)
	mux.Delete("/{db}/_design/{ddoc}", httpe.ToHandler(s.deleteDoc()).ServeHTTP)

	mux.Get("/{db}/{docid}", httpe.ToHandler(s.getDoc()).ServeHTTP)
	mux.Put("/{db}/{docid}", httpe.ToHandler(s.putDoc()).ServeHTTP)
	mux.Delete("/{db}/{docid}", httpe.ToHandler(s.deleteDoc()).ServeHTTP)

	mux.Get("/{db}/{docid}/{attname}", httpe.ToHandler(s.getAttachment()).ServeHTTP)
	mux.Put("/{db}/{docid}/{attname}", httpe.ToHandler(s.putAttachment()).ServeHTTP)
	mux.Delete("/{db}/{docid}/{attname}", httpe.ToHandler(s.deleteAttachment()).ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleErrors(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if err := next.ServeHTTPWithError(w, r); err != nil {
			status := http.StatusInternalServerError
			ce := &couchError{}
			if errors.As(err, &ce) {
				status = ce.status
			} else {
				ce.Err = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
				ce.Reason = err.Error()
			}
			return serveJSON(w, status, ce)
		}
		return nil
	})
}

func serveJSON(w http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = io.Copy(w, bytes.NewReader(body))
	return err
}

func requestKey(method, path string) string {
	return method + " " + path
}

// Requests returns the number of requests received for method and path.
// path is the escaped request path, without a query string.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[requestKey(method, path)]
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[requestKey(r.Method, r.URL.EscapedPath())]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// DropConnections makes the server close the connection, without a
// response, for the next n requests with method and path.
func (s *Server) DropConnections(method, path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[requestKey(method, path)] = n
}

func (s *Server) shouldDrop(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := requestKey(r.Method, r.URL.EscapedPath())
	if s.drops[key] > 0 {
		s.drops[key]--
		return true
	}
	return false
}

func (s *Server) dropConnections(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shouldDrop(r) {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		next.ServeHTTP(w, r)
	})
}

// gunzipBody decodes gzip-encoded request bodies.
func gunzipBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				_ = serveJSON(w, http.StatusBadRequest, badRequest(err.Error()))
				return
			}
			r.Body = gz
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}

// param returns the unescaped URL parameter.
func param(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func (s *Server) root() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"couchdb": "Welcome",
			"version": "3.3.3",
			"vendor":  map[string]string{"name": "sofa couchtest"},
		})
	})
}

func (s *Server) session() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var creds struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return errBadJSON
		}
		http.SetCookie(w, &http.Cookie{
			Name:    "AuthSession",
			Value:   randStr(),
			Path:    "/",
			Expires: time.Now().Add(10 * time.Minute),
		})
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    true,
			"name":  creds.Name,
			"roles": []string{"_admin"},
		})
	})
}

func (s *Server) database(r *http.Request) (*database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[param(r, "db")]
	if !ok {
		return nil, errNoDB
	}
	return db, nil
}

// Database creates the named database, if it does not exist.
func (s *Server) Database(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = newDatabase()
	}
}

func (s *Server) allDBs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		s.mu.Lock()
		names := make([]string, 0, len(s.dbs))
		for name := range s.dbs {
			names = append(names, name)
		}
		s.mu.Unlock()
		sort.Strings(names)
		return serveJSON(w, http.StatusOK, names)
	})
}

func (s *Server) getDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"db_name":    param(r, "db"),
			"doc_count":  db.docCount(),
			"update_seq": seqString(db.updateSeq()),
		})
	})
}

func (s *Server) createDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := param(r, "db")
		s.mu.Lock()
		_, exists := s.dbs[name]
		if !exists {
			s.dbs[name] = newDatabase()
		}
		s.mu.Unlock()
		if exists {
			return errDBExists
		}
		return serveJSON(w, http.StatusCreated, map[string]interface{}{"ok": true})
	})
}

func (s *Server) deleteDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := param(r, "db")
		s.mu.Lock()
		_, exists := s.dbs[name]
		delete(s.dbs, name)
		s.mu.Unlock()
		if !exists {
			return errNoDB
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	})
}
