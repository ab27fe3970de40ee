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
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy intervals. They are short, as the retry only covers
// transient connection failures.
const (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = time.Second
)

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0
	// WithMaxRetries counts retries, not attempts, so retries+1 requests may
	// be sent in total.
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retries)), ctx)
}

// retryGet performs a GET request, retrying on transport-level failures only.
// A response with an error status code is not retried.
func (c *Client) retryGet(ctx context.Context, path string, opts *Options) (*http.Response, error) {
	var res *http.Response
	op := func() error {
		var err error
		res, err = c.doReq(ctx, http.MethodGet, path, opts)
		if err != nil && !transient(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Printf("GET %s failed: %s; retrying in %s", path, err, next)
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return res, nil
}

// transient returns true if err represents a failure to complete the HTTP
// round trip, as opposed to a local error building the request.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
