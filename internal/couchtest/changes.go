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
	"strconv"
	"time"

	"gitlab.com/flimzy/httpe"
)

type changeRow struct {
	Seq     string              `json:"seq"`
	ID      string              `json:"id"`
	Changes []map[string]string `json:"changes"`
	Deleted bool                `json:"deleted,omitempty"`
}

func (c change) row() changeRow {
	return changeRow{
		Seq:     seqString(c.Seq),
		ID:      c.DocID,
		Changes: []map[string]string{{"rev": c.Rev}},
		Deleted: c.Deleted,
	}
}

func (s *Server) changes() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		db, err := s.database(r)
		if err != nil {
			return err
		}
		query := r.URL.Query()
		var since int64
		switch v := query.Get("since"); v {
		case "", "0":
		case "now":
			since = db.updateSeq()
		default:
			if since, err = parseSeq(v); err != nil {
				return err
			}
		}
		if query.Get("feed") != "continuous" {
			changes, _ := db.changesSince(since)
			results := make([]changeRow, len(changes))
			for i, c := range changes {
				results[i] = c.row()
			}
			return serveJSON(w, http.StatusOK, map[string]interface{}{
				"results":  results,
				"last_seq": seqString(db.updateSeq()),
				"pending":  0,
			})
		}
		heartbeat := time.Minute
		if v := query.Get("heartbeat"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				return badRequest("Invalid heartbeat value")
			}
			heartbeat = time.Duration(ms) * time.Millisecond
		}
		var timeout <-chan time.Time
		if v := query.Get("timeout"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				return badRequest("Invalid timeout value")
			}
			timeout = time.After(time.Duration(ms) * time.Millisecond)
		}
		return s.continuousFeed(w, r, db, since, heartbeat, timeout)
	})
}

// continuousFeed streams changes after since, one JSON object per line,
// until the client disconnects, the timeout expires, or the feed batch
// limit is reached. The last two end the feed with a last_seq record.
func (s *Server) continuousFeed(w http.ResponseWriter, r *http.Request, db *database, since int64, heartbeat time.Duration, timeout <-chan time.Time) error {
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	s.mu.Lock()
	batch := s.feedBatch
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flush()
	enc := json.NewEncoder(w)
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	cursor := since
	var sent int
	for {
		changes, updated := db.changesSince(cursor)
		for _, c := range changes {
			if err := enc.Encode(c.row()); err != nil {
				return nil
			}
			cursor = c.Seq
			sent++
			if batch > 0 && sent >= batch {
				_ = enc.Encode(map[string]string{"last_seq": seqString(cursor)})
				flush()
				return nil
			}
		}
		flush()
		select {
		case <-updated:
		case <-ticker.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return nil
			}
			flush()
		case <-timeout:
			_ = enc.Encode(map[string]string{"last_seq": seqString(cursor)})
			flush()
			return nil
		case <-r.Context().Done():
			return nil
		}
	}
}
