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

// Package output renders command results.
package output

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

// Format renders a JSON-encodable value.
type Format interface {
	Output(w io.Writer, v interface{}) error
}

// FormatFunc adapts a function to the Format interface.
type FormatFunc func(io.Writer, interface{}) error

func (f FormatFunc) Output(w io.Writer, v interface{}) error {
	return f(w, v)
}

// Formatter selects a registered Format by name.
type Formatter struct {
	mu      sync.Mutex
	formats map[string]Format
}

// New returns a formatter with the json and yaml formats registered.
func New() *Formatter {
	f := &Formatter{formats: map[string]Format{}}
	f.Register("json", FormatFunc(JSON))
	f.Register("yaml", FormatFunc(YAML))
	return f
}

func (f *Formatter) Register(name string, format Format) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.formats[name]; ok {
		panic(name + " already registered")
	}
	f.formats[name] = format
}

// Names returns the registered format names.
func (f *Formatter) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.formats))
	for name := range f.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Output renders v to w in the named format.
func (f *Formatter) Output(w io.Writer, name string, v interface{}) error {
	f.mu.Lock()
	format, ok := f.formats[name]
	f.mu.Unlock()
	if !ok {
		return errors.Codef(errors.ErrUsage, "unrecognized output format %q; use one of: %s", name, strings.Join(f.Names(), "|"))
	}
	return format.Output(w, v)
}

// JSON renders v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML renders v as YAML. v is first encoded as JSON, so that JSON field
// tags and marshalers apply.
func YAML(w io.Writer, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var obj interface{}
	if err := json.Unmarshal(buf, &obj); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2) // nolint:gomnd
	if err := enc.Encode(obj); err != nil {
		return err
	}
	return enc.Close()
}
