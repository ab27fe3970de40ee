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

package chttp

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
)

// Options are optional parameters which may be sent with a request.
type Options struct {
	// Accept sets the request's Accept header. Defaults to "application/json".
	// To specify any, use "*/*".
	Accept string

	// ContentType sets the requests's Content-Type header. Defaults to "application/json".
	ContentType string

	// ContentLength, if set, sets the ContentLength of the request
	ContentLength int64

	// Body sets the body of the request.
	Body io.ReadCloser

	// GetBody is a function to set the body, and can be used on retries. If
	// set, Body is ignored.
	GetBody func() (io.ReadCloser, error)

	// Query is appended to the exiting url, if present. If the passed url
	// already contains query parameters, the values in Query are appended.
	// No merging takes place.
	Query url.Values

	// Header is a list of default headers to be set on the request.
	Header http.Header

	// NoGzip disables gzip compression on the request body.
	NoGzip bool

	// NoRetry disables the transport-level retry of GET requests. Long-lived
	// streaming requests set this.
	NoRetry bool
}

type optionNoRequestCompression struct{}

func (optionNoRequestCompression) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.noGzip = true
	}
}

func (optionNoRequestCompression) String() string { return "NoRequestCompression" }

// OptionNoRequestCompression instructs the client not to use gzip
// compression for request bodies sent to the server.
func OptionNoRequestCompression() Option {
	return optionNoRequestCompression{}
}

type optionUserAgent string

func (a optionUserAgent) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.UserAgents = append(client.UserAgents, string(a))
	}
}

func (a optionUserAgent) String() string {
	return fmt.Sprintf("[UserAgent:%s]", string(a))
}

// OptionUserAgent may be passed as an option when creating a client object,
// to append to the default User-Agent header sent on all requests.
func OptionUserAgent(ua string) Option {
	return optionUserAgent(ua)
}

type optionRetries int

func (o optionRetries) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.retries = int(o)
	}
}

func (o optionRetries) String() string {
	return fmt.Sprintf("[Retries:%d]", int(o))
}

// OptionRetries sets the number of times a GET request is retried after a
// transport-level failure. Zero disables retries.
func OptionRetries(n int) Option {
	return optionRetries(n)
}

type optionMaxConnsPerHost int

func (o optionMaxConnsPerHost) Apply(target interface{}) {
	if client, ok := target.(*Client); ok {
		client.maxConnsPerHost = int(o)
	}
}

func (o optionMaxConnsPerHost) String() string {
	return fmt.Sprintf("[MaxConnsPerHost:%d]", int(o))
}

// OptionMaxConnsPerHost limits the size of the shared connection pool. It is
// ignored when a custom *http.Client with its own transport is supplied.
func OptionMaxConnsPerHost(n int) Option {
	return optionMaxConnsPerHost(n)
}

type optionLogger struct {
	*log.Logger
}

func (o optionLogger) Apply(target interface{}) {
	if client, ok := target.(*Client); ok && o.Logger != nil {
		client.logger = o.Logger
	}
}

func (optionLogger) String() string { return "[Logger]" }

// OptionLogger sets the logger used to report retried requests.
func OptionLogger(logger *log.Logger) Option {
	return optionLogger{Logger: logger}
}

// CookieAuth provides CouchDB [Cookie auth]. Cookie Auth is the default
// authentication method if credentials are included in the connection URL
// passed to [New]. You may also pass this option as an argument to the same
// function, if you need to provide your auth credentials outside of the URL.
//
// [Cookie auth]: http://docs.couchdb.org/en/2.0.0/api/server/authn.html#cookie-authentication
func CookieAuth(username, password string) Option {
	return &cookieAuth{credentials: credentials{Username: username, Password: password}}
}

// BasicAuth provides HTTP Basic Auth for a client. Pass this option to [New]
// to use Basic Authentication.
func BasicAuth(username, password string) Option {
	return &basicAuth{credentials: credentials{Username: username, Password: password}}
}
