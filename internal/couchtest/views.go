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

package couchtest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"gitlab.com/flimzy/httpe"

	"github.com/go-kivik/sofa/internal/collate"
)

// MapFunc is a view map function. It calls emit for each row the document
// contributes to the view.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

// Built-in reduce functions.
const (
	ReduceCount = "_count"
	ReduceSum   = "_sum"
)

type view struct {
	mapFn  MapFunc
	reduce string
}

func viewKey(db, ddoc, name string) string {
	return db + "/" + ddoc + "/" + name
}

// AddView registers a view of the named database. reduce is empty, or one
// of the built-in reduce functions.
func (s *Server) AddView(db, ddoc, name string, mapFn MapFunc, reduce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[viewKey(db, ddoc, name)] = &view{mapFn: mapFn, reduce: reduce}
}

type viewRow struct {
	ID    string          `json:"id,omitempty"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   interface{}     `json:"doc,omitempty"`
}

type viewParams struct {
	key, startKey, endKey json.RawMessage
	descending            bool
	includeDocs           bool
	inclusiveEnd          bool
	reduce                *bool
	group                 bool
	groupLevel            int
	skip, limit           int
}

func parseBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("Invalid boolean parameter: " + name)
	}
	return b, nil
}

func parseInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("Invalid integer parameter: " + name)
	}
	return n, nil
}

func parseJSON(r *http.Request, name string) (json.RawMessage, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if !json.Valid([]byte(v)) {
		return nil, badRequest("Invalid JSON parameter: " + name)
	}
	return json.RawMessage(v), nil
}

func parseViewParams(r *http.Request) (*viewParams, error) {
	p := &viewParams{}
	var err error
	if p.key, err = parseJSON(r, "key"); err != nil {
		return nil, err
	}
	if p.startKey, err = parseJSON(r, "startkey"); err != nil {
		return nil, err
	}
	if p.endKey, err = parseJSON(r, "endkey"); err != nil {
		return nil, err
	}
	if p.descending, err = parseBool(r, "descending", false); err != nil {
		return nil, err
	}
	if p.includeDocs, err = parseBool(r, "include_docs", false); err != nil {
		return nil, err
	}
	if p.inclusiveEnd, err = parseBool(r, "inclusive_end", true); err != nil {
		return nil, err
	}
	if p.group, err = parseBool(r, "group", false); err != nil {
		return nil, err
	}
	if r.URL.Query().Get("reduce") != "" {
		reduce, err := parseBool(r, "reduce", true)
		if err != nil {
			return nil, err
		}
		p.reduce = &reduce
	}
	if p.groupLevel, err = parseInt(r, "group_level", 0); err != nil {
		return nil, err
	}
	if p.skip, err = parseInt(r, "skip", 0); err != nil {
		return nil, err
	}
	if p.limit, err = parseInt(r, "limit", -1); err != nil {
		return nil, err
	}
	return p, nil
}

// inRange reports whether a row with key belongs to the result.
func (p *viewParams) inRange(key json.RawMessage) bool {
	if p.key != nil {
		return collate.CompareJSON(key, p.key) == 0
	}
	lo, hi := p.startKey, p.endKey
	if p.descending {
		lo, hi = hi, lo
	}
	if lo != nil && collate.CompareJSON(key, lo) < 0 {
		return false
	}
	if hi != nil {
		c := collate.CompareJSON(key, hi)
		if c > 0 || (c == 0 && !p.inclusiveEnd) {
			return false
		}
	}
	return true
}

// page applies ordering, skip, and limit.
func (p *viewParams) page(rows []viewRow) []viewRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := collate.CompareJSON(rows[i].Key, rows[j].Key); c != 0 {
			return c < 0
		}
		return rows[i].ID < rows[j].ID
	})
	if p.descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if p.skip >= len(rows) {
		return []viewRow{}
	}
	rows = rows[p.skip:]
	if p.limit >= 0 && p.limit < len(rows) {
		rows = rows[:p.limit]
	}
	return rows
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

func (s *Server) query() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		s.mu.Lock()
		v, ok := s.views[viewKey(param(r, "db"), param(r, "ddoc"), param(r, "view"))]
		s.mu.Unlock()
		if !ok {
			return errMissingView
		}
		p, err := parseViewParams(r)
		if err != nil {
			return err
		}
		var rows []viewRow
		ids := db.liveDocs()
		for _, id := range ids {
			rev, err := db.get(id, "")
			if err != nil {
				continue
			}
			doc := rev.doc(id)
			v.mapFn(doc, func(key, value interface{}) {
				row := viewRow{ID: id, Key: mustJSON(key), Value: mustJSON(value)}
				if !p.inRange(row.Key) {
					return
				}
				if p.includeDocs {
					row.Doc = doc
				}
				rows = append(rows, row)
			})
		}
		if v.reduce != "" && (p.reduce == nil || *p.reduce) {
			if p.includeDocs {
				return badRequest("include_docs is invalid for reduce")
			}
			return serveJSON(w, http.StatusOK, map[string]interface{}{
				"rows": p.page(reduceRows(v.reduce, rows, p)),
			})
		}
		total := len(rows)
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"total_rows": total,
			"offset":     p.skip,
			"rows":       p.page(rows),
		})
	})
}

// groupKey truncates array keys to the group level.
func (p *viewParams) groupKey(key json.RawMessage) json.RawMessage {
	if !p.group && p.groupLevel == 0 {
		return json.RawMessage("null")
	}
	if p.groupLevel == 0 {
		return key
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(key, &parts); err != nil {
		return key
	}
	if len(parts) > p.groupLevel {
		parts = parts[:p.groupLevel]
	}
	return mustJSON(parts)
}

func reduceRows(fn string, rows []viewRow, p *viewParams) []viewRow {
	type group struct {
		key   json.RawMessage
		count int
		sum   float64
	}
	var groups []*group
	index := map[string]*group{}
	for _, row := range rows {
		key := p.groupKey(row.Key)
		g, ok := index[string(key)]
		if !ok {
			g = &group{key: key}
			index[string(key)] = g
			groups = append(groups, g)
		}
		g.count++
		var n float64
		if err := json.Unmarshal(row.Value, &n); err == nil {
			g.sum += n
		}
	}
	result := make([]viewRow, 0, len(groups))
	for _, g := range groups {
		var value interface{} = g.count
		if fn == ReduceSum {
			value = g.sum
		}
		result = append(result, viewRow{Key: g.key, Value: mustJSON(value)})
	}
	return result
}

func (s *Server) allDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		p, err := parseViewParams(r)
		if err != nil {
			return err
		}
		ids := db.liveDocs()
		rows := make([]viewRow, 0, len(ids))
		for _, id := range ids {
			rev, err := db.get(id, "")
			if err != nil {
				continue
			}
			row := viewRow{
				ID:    id,
				Key:   mustJSON(id),
				Value: mustJSON(map[string]string{"rev": rev.String()}),
			}
			if !p.inRange(row.Key) {
				continue
			}
			if p.includeDocs {
				row.Doc = rev.doc(id)
			}
			rows = append(rows, row)
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"total_rows": len(ids),
			"offset":     p.skip,
			"rows":       p.page(rows),
		})
	})
}
