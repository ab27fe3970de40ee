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

// Package registry holds the per-client table of database sessions.
package registry

import (
	"sync"
)

// Registry maps logical names to values of type T. Lookups and insertions
// happen under a single lock, so that at most one value is ever created for
// a given name.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]T
	closed  bool
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// ErrClosed is returned by [Registry.LoadOrCreate] once the registry has
// been cleared by [Registry.Close].
type ErrClosed struct{}

func (ErrClosed) Error() string { return "registry closed" }

// LoadOrCreate returns the value registered under name. If there is none,
// create is called, within the registry's critical section, and its result
// is stored, unless it returns an error.
func (r *Registry[T]) LoadOrCreate(name string, create func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.closed {
		return zero, ErrClosed{}
	}
	if v, ok := r.entries[name]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return zero, err
	}
	r.entries[name] = v
	return v, nil
}

// Close empties the registry, and returns the values it held. Subsequent
// calls to LoadOrCreate fail with ErrClosed.
func (r *Registry[T]) Close() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	values := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		values = append(values, v)
	}
	r.entries = make(map[string]T)
	return values
}
