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
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/go-kivik/sofa/chttp"
	"github.com/go-kivik/sofa/internal/registry"
)

// Client is a client connection handle to a CouchDB server. A Client is safe
// for concurrent use, and its connection pool is shared by every [DB] it
// returns.
type Client struct {
	dsn       string
	config    *clientConfig
	transport *chttp.Client
	sessions  *registry.Registry[*DB]
	async     *semaphore.Weighted

	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// New creates a new client for the server at dsn, which must be a full URL,
// such as "http://localhost:5984/". Credentials in the URL enable cookie
// authentication.
//
// Options which configure the transport, such as [BasicAuth] or
// [OptionUserAgent], may be mixed freely with client options.
func New(dsn string, options ...Option) (*Client, error) {
	cfg := newClientConfig()
	allOptions(options).Apply(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	transport, err := chttp.New(httpClient, dsn, append(cfg.transportOptions(), options...)...)
	if err != nil {
		return nil, err
	}
	return &Client{
		dsn:       dsn,
		config:    cfg,
		transport: transport,
		sessions:  registry.New[*DB](),
		async:     semaphore.NewWeighted(int64(cfg.AsyncWorkers)),
	}, nil
}

// DSN returns the data source name used to connect this client.
func (c *Client) DSN() string {
	return c.dsn
}

func (c *Client) startQuery() (end func(), _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	var once sync.Once
	c.wg.Add(1)
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.wg.Done()
			c.mu.Unlock()
		})
	}, nil
}

// DB returns the session for the named database, creating the database on
// the server if it does not yet exist. At most one session exists per name;
// subsequent calls return the same handle without contacting the server.
func (c *Client) DB(ctx context.Context, name string) (*DB, error) {
	if name == "" {
		return nil, missingArg("name")
	}
	endQuery, err := c.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	db, err := c.sessions.LoadOrCreate(name, func() (*DB, error) {
		db := newDB(c, name)
		if err := db.bootstrap(ctx); err != nil {
			return nil, err
		}
		return db, nil
	})
	if errors.Is(err, registry.ErrClosed{}) {
		return nil, ErrClientClosed
	}
	return db, err
}

// AllDBs is not supported, and always returns an error which matches
// [ErrNotImplemented].
func (c *Client) AllDBs(context.Context, ...Option) ([]string, error) {
	return nil, ErrNotImplemented
}

// Close stops every change feed, invalidates the cached database sessions,
// and releases idle connections. It waits for in-flight requests to
// complete. After Close returns, every method of the client and of the
// sessions it returned fails with [ErrClientClosed].
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	for _, db := range c.sessions.Close() {
		db.feed.shutdown()
	}
	c.transport.CloseIdleConnections()
	return nil
}

// dbPath returns the escaped path of the named database.
func dbPath(name string) string {
	return "/" + chttp.EncodeSegment(name)
}
