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
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-kivik/sofa/chttp"
)

// Stale controls whether a view query may return results from a stale index.
type Stale string

// Values accepted by [ViewQuery.Stale].
const (
	StaleOK          Stale = "ok"
	StaleUpdateAfter Stale = "update_after"
)

type queryParam struct {
	name, value string
}

// ViewQuery builds the path and query string of a view query. Setters may
// be chained; the first error is reported by [ViewQuery.Path].
//
// Parameters are encoded in the order they were first set, so that the
// resulting URL is stable. Key parameters are JSON-encoded: a single key
// encodes as a JSON scalar, and several keys as a JSON array.
//
//	q := sofa.NewViewQuery("people/by_name").Key("bob").IncludeDocs(true)
//	result, err := db.Query(ctx, q)
type ViewQuery struct {
	ddoc   string
	view   string
	params []queryParam
	err    error
}

// NewViewQuery returns a query for the named view. See [ViewQuery.Name].
func NewViewQuery(name string) *ViewQuery {
	return (&ViewQuery{}).Name(name)
}

// Name sets the view name. The "ddoc/view" shorthand sets both the design
// document and the view name; a name with more than one '/' is invalid.
// A name which begins with '_', such as "_all_docs", is a system view,
// which is queried verbatim, outside of any design document.
func (q *ViewQuery) Name(name string) *ViewQuery {
	parts := strings.Split(name, "/")
	switch {
	case len(parts) > 2: // nolint:gomnd
		q.setErr(invalidQuery("sofa: view name %q contains more than one '/'", name))
	case strings.HasPrefix(name, reservedPrefix), len(parts) == 1:
		q.view = name
	default:
		q.ddoc, q.view = parts[0], parts[1]
	}
	return q
}

// Document sets the design document name. The _design/ prefix is optional.
func (q *ViewQuery) Document(ddoc string) *ViewQuery {
	q.ddoc = strings.TrimPrefix(ddoc, "_design/")
	return q
}

func (q *ViewQuery) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

func (q *ViewQuery) set(name, value string) *ViewQuery {
	for i, p := range q.params {
		if p.name == name {
			q.params[i].value = value
			return q
		}
	}
	q.params = append(q.params, queryParam{name: name, value: value})
	return q
}

func (q *ViewQuery) setJSON(name string, v interface{}) *ViewQuery {
	encoded, err := json.Marshal(v)
	if err != nil {
		q.setErr(invalidQuery("sofa: cannot encode %s: %s", name, err))
		return q
	}
	return q.set(name, string(encoded))
}

// setKey encodes one key as a JSON scalar, and several as a JSON array.
func (q *ViewQuery) setKey(name string, keys []interface{}) *ViewQuery {
	switch len(keys) {
	case 0:
		q.setErr(invalidQuery("sofa: %s requires at least one value", name))
		return q
	case 1:
		return q.setJSON(name, keys[0])
	}
	return q.setJSON(name, keys)
}

// Key restricts the result to rows matching the key.
func (q *ViewQuery) Key(keys ...interface{}) *ViewQuery { return q.setKey("key", keys) }

// StartKey sets the first key of a range.
func (q *ViewQuery) StartKey(keys ...interface{}) *ViewQuery { return q.setKey("startkey", keys) }

// EndKey sets the last key of a range.
func (q *ViewQuery) EndKey(keys ...interface{}) *ViewQuery { return q.setKey("endkey", keys) }

// StartKeyDocID sets the document ID at which to start, among rows with the
// same start key.
func (q *ViewQuery) StartKeyDocID(docID string) *ViewQuery {
	return q.setJSON("startkey_docid", docID)
}

// EndKeyDocID sets the document ID at which to stop, among rows with the
// same end key.
func (q *ViewQuery) EndKeyDocID(docID string) *ViewQuery {
	return q.setJSON("endkey_docid", docID)
}

// Descending reverses the row order.
func (q *ViewQuery) Descending(v bool) *ViewQuery {
	return q.set("descending", strconv.FormatBool(v))
}

// IncludeDocs includes the full document in each row.
func (q *ViewQuery) IncludeDocs(v bool) *ViewQuery {
	return q.set("include_docs", strconv.FormatBool(v))
}

// Group groups reduced results by key.
func (q *ViewQuery) Group(v bool) *ViewQuery {
	return q.set("group", strconv.FormatBool(v))
}

// GroupLevel groups reduced results by the first n elements of array keys.
func (q *ViewQuery) GroupLevel(n int) *ViewQuery {
	if n < 0 {
		q.setErr(invalidQuery("sofa: group_level must not be negative"))
		return q
	}
	return q.set("group_level", strconv.Itoa(n))
}

// Skip skips the first n rows.
func (q *ViewQuery) Skip(n int) *ViewQuery {
	if n < 0 {
		q.setErr(invalidQuery("sofa: skip must not be negative"))
		return q
	}
	return q.set("skip", strconv.Itoa(n))
}

// Limit limits the number of returned rows.
func (q *ViewQuery) Limit(n int) *ViewQuery {
	if n < 0 {
		q.setErr(invalidQuery("sofa: limit must not be negative"))
		return q
	}
	return q.set("limit", strconv.Itoa(n))
}

// Reduce controls whether the view's reduce function is applied.
func (q *ViewQuery) Reduce(v bool) *ViewQuery {
	return q.set("reduce", strconv.FormatBool(v))
}

// InclusiveEnd controls whether rows matching the end key are included.
func (q *ViewQuery) InclusiveEnd(v bool) *ViewQuery {
	return q.set("inclusive_end", strconv.FormatBool(v))
}

// Stale allows results from a stale view index.
func (q *ViewQuery) Stale(s Stale) *ViewQuery {
	switch s {
	case StaleOK, StaleUpdateAfter:
	default:
		q.setErr(invalidQuery("sofa: invalid stale value %q", s))
		return q
	}
	return q.set("stale", string(s))
}

// Err returns the first error encountered while building the query.
func (q *ViewQuery) Err() error {
	if q.err != nil {
		return q.err
	}
	if q.view == "" {
		return invalidQuery("sofa: view name required")
	}
	if q.ddoc == "" && !strings.HasPrefix(q.view, reservedPrefix) {
		return invalidQuery("sofa: design document required for view %q", q.view)
	}
	return nil
}

// Encode returns the percent-encoded query string, without the leading '?'.
func (q *ViewQuery) Encode() string {
	parts := make([]string, len(q.params))
	for i, p := range q.params {
		parts[i] = p.name + "=" + url.QueryEscape(p.value)
	}
	return strings.Join(parts, "&")
}

// Path returns the path of the query, relative to the database, including
// the query string.
func (q *ViewQuery) Path() (string, error) {
	if err := q.Err(); err != nil {
		return "", err
	}
	var path string
	if strings.HasPrefix(q.view, reservedPrefix) {
		path = q.view
	} else {
		path = "_design/" + chttp.EncodeSegment(q.ddoc) + "/_view/" + chttp.EncodeSegment(q.view)
	}
	if len(q.params) == 0 {
		return path, nil
	}
	return path + "?" + q.Encode(), nil
}

// String returns the query path, or the error which prevents building it.
func (q *ViewQuery) String() string {
	path, err := q.Path()
	if err != nil {
		return err.Error()
	}
	return path
}
