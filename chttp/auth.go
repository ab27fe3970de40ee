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
	"net/http"
	"strings"
)

// authenticator installs itself as the transport of a client.
type authenticator interface {
	Authenticate(*Client) error
}

// credentials are the name and password sent by an authenticator. The JSON
// form is the body of a /_session request.
type credentials struct {
	Username string `json:"name"`
	Password string `json:"password"`
}

// masked formats the credentials for logs, hiding the password.
func (c credentials) masked(scheme string) string {
	return fmt.Sprintf("[%s{user:%s,pass:%s}]", scheme, c.Username, strings.Repeat("*", len(c.Password)))
}

// wrapTransport installs rt as the transport of c, and returns the transport
// it replaced, which rt must delegate to.
func wrapTransport(c *Client, rt http.RoundTripper) http.RoundTripper {
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c.Transport = rt
	return next
}
