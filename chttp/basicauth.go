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
	"net/http"
)

// basicAuth sends the credentials with every request.
type basicAuth struct {
	credentials
	next http.RoundTripper
}

var (
	_ authenticator = &basicAuth{}
	_ Option        = (*basicAuth)(nil)
)

// Apply installs a copy of a, so that one option may configure several
// clients.
func (a *basicAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &basicAuth{credentials: a.credentials}
	}
}

func (a *basicAuth) String() string {
	return a.masked("BasicAuth")
}

func (a *basicAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(a.Username, a.Password)
	return a.next.RoundTrip(req)
}

func (a *basicAuth) Authenticate(c *Client) error {
	a.next = wrapTransport(c, a)
	return nil
}
