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
)

// Future is the pending result of an asynchronous operation, such as
// [DB.GetAsync].
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done returns a channel which is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result of the operation, or for ctx to be done. When
// ctx is done first, Await returns ctx.Err(), and the operation continues.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// runAsync runs fn on the client's worker pool. At most the configured
// number of async operations run at once; others wait for a free worker.
func runAsync[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		if err := c.async.Acquire(ctx, 1); err != nil {
			f.err = err
			return
		}
		defer c.async.Release(1)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// GetAsync runs [DB.Get] asynchronously.
func (db *DB) GetAsync(ctx context.Context, docID string, options ...Option) *Future[*Document] {
	return runAsync(ctx, db.client, func(ctx context.Context) (*Document, error) {
		return db.Get(ctx, docID, options...)
	})
}

// SaveAsync runs [DB.Save] asynchronously. doc must not be modified until
// the result is available.
func (db *DB) SaveAsync(ctx context.Context, doc *Document) *Future[*ServerResponse] {
	return runAsync(ctx, db.client, func(ctx context.Context) (*ServerResponse, error) {
		return db.Save(ctx, doc)
	})
}

// DeleteAsync runs [DB.Delete] asynchronously.
func (db *DB) DeleteAsync(ctx context.Context, docID, rev string) *Future[*ServerResponse] {
	return runAsync(ctx, db.client, func(ctx context.Context) (*ServerResponse, error) {
		return db.Delete(ctx, docID, rev)
	})
}

// QueryAsync runs [DB.Query] asynchronously.
func (db *DB) QueryAsync(ctx context.Context, q *ViewQuery) *Future[*ViewResult] {
	return runAsync(ctx, db.client, func(ctx context.Context) (*ViewResult, error) {
		return db.Query(ctx, q)
	})
}
