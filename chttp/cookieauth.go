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
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SessionCookieName is the name of the CouchDB session cookie.
const SessionCookieName = "AuthSession"

// sessionRenewal is how long before its expiry a session cookie is renewed.
const sessionRenewal = time.Minute

// cookieAuth logs in through /_session, and sends the session cookie with
// every request. An expired or rejected session is renewed on the next
// request.
type cookieAuth struct {
	credentials

	client *Client
	next   http.RoundTripper
}

var (
	_ authenticator = &cookieAuth{}
	_ Option        = (*cookieAuth)(nil)
)

func (a *cookieAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &cookieAuth{credentials: a.credentials}
	}
}

func (a *cookieAuth) String() string {
	return a.masked("CookieAuth")
}

func (a *cookieAuth) Authenticate(c *Client) error {
	a.client = c
	if c.Jar == nil {
		// cookiejar.New never returns an error
		c.Jar, _ = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	}
	a.next = wrapTransport(c, a)
	return nil
}

// Cookie returns the current session cookie, if any.
func (a *cookieAuth) Cookie() *http.Cookie {
	if a.client == nil {
		return nil
	}
	for _, cookie := range a.client.Jar.Cookies(a.client.dsn) {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	return nil
}

// needsSession reports whether a session must be opened before req is sent.
// A cookie without an expiry time is used until the server rejects it.
func (a *cookieAuth) needsSession(req *http.Request) bool {
	if _, err := req.Cookie(SessionCookieName); err == nil {
		return false
	}
	cookie := a.Cookie()
	if cookie == nil {
		return true
	}
	return !cookie.Expires.IsZero() && cookie.Expires.Before(time.Now().Add(sessionRenewal))
}

// expire drops the session cookie from the jar.
func (a *cookieAuth) expire() {
	cookie := a.Cookie()
	if cookie == nil {
		return
	}
	cookie.MaxAge = -1
	a.client.Jar.SetCookies(a.client.dsn, []*http.Cookie{cookie})
	a.client.logger.Printf("session of %s rejected by the server; logging in again on next request", a.Username)
}

type sessionCtxKey struct{}

func (a *cookieAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := a.login(req); err != nil {
		return nil, err
	}
	res, err := a.next.RoundTrip(req)
	if err != nil {
		return res, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		a.expire()
	}
	return res, nil
}

// login opens a session if needed, and adds the session cookie to req.
func (a *cookieAuth) login(req *http.Request) error {
	ctx := req.Context()
	if ctx.Value(sessionCtxKey{}) != nil || !a.needsSession(req) {
		return nil
	}
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	// Another request may have logged in while this one waited.
	if c := a.Cookie(); c != nil && !a.needsSession(req) {
		req.AddCookie(c)
		return nil
	}
	ctx = context.WithValue(ctx, sessionCtxKey{}, true)
	opts := &Options{
		GetBody: BodyEncoder(a.credentials),
		NoRetry: true,
	}
	if _, err := a.client.DoError(ctx, http.MethodPost, "/_session", opts); err != nil {
		return err
	}
	a.client.logger.Printf("logged in as %s", a.Username)
	if c := a.Cookie(); c != nil {
		req.AddCookie(c)
	}
	return nil
}
