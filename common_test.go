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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-kivik/sofa/internal/couchtest"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (c customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return c(req)
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

// jsonResponse returns a response with a JSON body.
func jsonResponse(r *http.Request, status int, s string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": {"application/json"}},
		ContentLength: int64(len(s)),
		Body:          body(s),
		Request:       r,
	}
}

// newMockDB returns a DB session whose requests are served by fn. The
// database bootstrap request is answered before fn is consulted.
func newMockDB(t *testing.T, fn func(*http.Request) (*http.Response, error), options ...Option) *DB {
	t.Helper()
	transport := customTransport(func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodGet && r.URL.Path == "/db" && r.URL.RawQuery == "" {
			return jsonResponse(r, http.StatusOK, `{"db_name":"db","update_seq":"0-x"}`), nil
		}
		return fn(r)
	})
	client, err := New("http://example.com/", append([]Option{OptionHTTPClient(&http.Client{Transport: transport})}, options...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	db, err := client.DB(context.Background(), "db")
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// newTestServer starts an in-memory server, and returns it with a client
// connected to it.
func newTestServer(t *testing.T, options ...couchtest.Option) (*couchtest.Server, *Client) {
	t.Helper()
	return newTestServerClient(t, nil, options...)
}

func newTestServerClient(t *testing.T, clientOptions []Option, options ...couchtest.Option) (*couchtest.Server, *Client) {
	t.Helper()
	s := couchtest.New(options...)
	ts := s.Serve(t)
	client, err := New(ts.URL, clientOptions...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func newTestDB(t *testing.T, name string, options ...couchtest.Option) (*couchtest.Server, *DB) {
	t.Helper()
	return newTestDBClient(t, name, nil, options...)
}

func newTestDBClient(t *testing.T, name string, clientOptions []Option, options ...couchtest.Option) (*couchtest.Server, *DB) {
	t.Helper()
	s, client := newTestServerClient(t, clientOptions, options...)
	db, err := client.DB(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return s, db
}
