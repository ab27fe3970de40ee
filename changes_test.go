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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/go-kivik/sofa/internal/couchtest"
)

const feedTimeout = 5 * time.Second

// collector is a listener which forwards events to a channel.
type collector struct {
	events chan *ChangeEvent
	errs   chan error
}

var _ ChangeErrorListener = &collector{}

func newCollector() *collector {
	return &collector{
		events: make(chan *ChangeEvent, 100),
		errs:   make(chan error, 10),
	}
}

func (c *collector) OnChange(e *ChangeEvent) { c.events <- e }

func (c *collector) OnFeedError(err error) { c.errs <- err }

func (c *collector) next(t *testing.T) *ChangeEvent {
	t.Helper()
	select {
	case e := <-c.events:
		return e
	case err := <-c.errs:
		t.Fatalf("Unexpected feed error: %s", err)
	case <-time.After(feedTimeout):
		t.Fatal("Timed out waiting for change")
	}
	return nil
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-c.events:
		t.Errorf("Unexpected change: %+v", e)
	case <-time.After(wait):
	}
}

func saveDocs(t *testing.T, db *DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := db.Save(context.Background(), NewDocument(map[string]interface{}{"_id": id})); err != nil {
			t.Fatal(err)
		}
	}
}

func waitForState(t *testing.T, db *DB, want FeedState) {
	t.Helper()
	deadline := time.Now().Add(feedTimeout)
	for db.FeedState() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Feed state is %s, want %s", db.FeedState(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribe(t *testing.T) {
	_, db := newTestDB(t, "feed")
	ctx := context.Background()
	saveDocs(t, db, "before")

	if state := db.FeedState(); state != FeedIdle {
		t.Errorf("Unexpected initial state: %s", state)
	}
	c := newCollector()
	sub, err := db.Subscribe(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if state := db.FeedState(); state != FeedStreaming {
		t.Errorf("Unexpected state after subscribe: %s", state)
	}

	ids := []string{"a", "b", "c", "d", "e"}
	saveDocs(t, db, ids...)
	var got []string
	var last int64
	for range ids {
		e := c.next(t)
		got = append(got, e.ID)
		if e.SeqNumber() <= last {
			t.Errorf("Sequence %d did not increase from %d", e.SeqNumber(), last)
		}
		last = e.SeqNumber()
		if len(e.Changes) != 1 {
			t.Errorf("Unexpected changes: %v", e.Changes)
		}
	}
	if d := cmp.Diff(ids, got); d != "" {
		t.Error(d)
	}

	sub.Cancel()
	sub.Cancel()
	waitForState(t, db, FeedIdle)
	saveDocs(t, db, "f", "g", "h")
	c.expectNone(t, 200*time.Millisecond)
}

func TestSubscribe_deleted(t *testing.T) {
	_, db := newTestDB(t, "feed")
	ctx := context.Background()
	c := newCollector()
	sub, err := db.Subscribe(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	res, err := db.Save(ctx, NewDocument(map[string]interface{}{"_id": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if e := c.next(t); e.Deleted || e.Changes[0] != res.Rev {
		t.Errorf("Unexpected event: %+v", e)
	}
	deleted, err := db.Delete(ctx, "x", res.Rev)
	if err != nil {
		t.Fatal(err)
	}
	if e := c.next(t); !e.Deleted || e.Changes[0] != deleted.Rev {
		t.Errorf("Unexpected event: %+v", e)
	}
}

func TestSubscribe_sharedConnection(t *testing.T) {
	s, db := newTestDB(t, "shared")
	ctx := context.Background()
	first, second := newCollector(), newCollector()
	sub1, err := db.Subscribe(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := db.Subscribe(ctx, second)
	if err != nil {
		t.Fatal(err)
	}

	saveDocs(t, db, "a")
	if e := first.next(t); e.ID != "a" {
		t.Errorf("Unexpected event: %+v", e)
	}
	if e := second.next(t); e.ID != "a" {
		t.Errorf("Unexpected event: %+v", e)
	}
	if n := s.Requests(http.MethodGet, "/shared/_changes"); n != 1 {
		t.Errorf("Expected one feed connection, got %d", n)
	}

	sub1.Cancel()
	if state := db.FeedState(); state != FeedStreaming {
		t.Errorf("Feed should stay open with a listener left, state %s", state)
	}
	saveDocs(t, db, "b")
	if e := second.next(t); e.ID != "b" {
		t.Errorf("Unexpected event: %+v", e)
	}
	first.expectNone(t, 100*time.Millisecond)

	sub2.Cancel()
	waitForState(t, db, FeedIdle)
}

func TestSubscribe_cancelFromListener(t *testing.T) {
	_, db := newTestDB(t, "self")
	ctx := context.Background()
	var mu sync.Mutex
	var seen []string
	var sub *Subscription
	ready := make(chan struct{})
	listener := ChangeListenerFunc(func(e *ChangeEvent) {
		<-ready
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
		sub.Cancel()
	})
	var err error
	sub, err = db.Subscribe(ctx, listener)
	if err != nil {
		t.Fatal(err)
	}
	close(ready)
	saveDocs(t, db, "a", "b", "c")
	waitForState(t, db, FeedIdle)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if d := cmp.Diff([]string{"a"}, seen); d != "" {
		t.Error(d)
	}
}

func TestSubscribe_resume(t *testing.T) {
	s, db := newTestDB(t, "resume", couchtest.FeedBatch(2))
	ctx := context.Background()
	c := newCollector()
	sub, err := db.Subscribe(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	ids := make([]string, 7)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc%d", i)
	}
	saveDocs(t, db, ids...)
	var got []string
	for range ids {
		got = append(got, c.next(t).ID)
	}
	if d := cmp.Diff(ids, got); d != "" {
		t.Error(d)
	}
	c.expectNone(t, 100*time.Millisecond)
	if n := s.Requests(http.MethodGet, "/resume/_changes"); n < 4 {
		t.Errorf("Expected the feed to reconnect, got %d connections", n)
	}
}

func TestSubscribe_feedError(t *testing.T) {
	db := newMockDB(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusInternalServerError, `{"error":"unknown","reason":"feed broke"}`), nil
	})
	c := newCollector()
	plain := &struct{ ChangeListener }{ChangeListenerFunc(func(*ChangeEvent) {})}
	if _, err := db.Subscribe(context.Background(), plain); err != nil {
		t.Fatal(err)
	}
	// The feed may already have failed, in which case this subscription
	// starts a new worker which fails the same way.
	if _, err := db.Subscribe(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-c.errs:
		if status := HTTPStatus(err); status != http.StatusInternalServerError {
			t.Errorf("Unexpected status %d: %s", status, err)
		}
	case <-time.After(feedTimeout):
		t.Fatal("Timed out waiting for feed error")
	}
	waitForState(t, db, FeedIdle)
}

func TestSubscribe_reconnectWithBackOff(t *testing.T) {
	s, db := newTestDBClient(t, "flaky", []Option{
		OptionFeedBackOff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		}),
	})
	s.DropConnections(http.MethodGet, "/flaky/_changes", 3)
	ctx := context.Background()
	c := newCollector()
	sub, err := db.Subscribe(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	saveDocs(t, db, "a")
	if e := c.next(t); e.ID != "a" {
		t.Errorf("Unexpected event: %+v", e)
	}
	if n := s.Requests(http.MethodGet, "/flaky/_changes"); n != 4 {
		t.Errorf("Expected 4 feed connections, got %d", n)
	}
}

func TestSubscribe_backOffGivesUp(t *testing.T) {
	s, db := newTestDBClient(t, "flaky", []Option{
		OptionFeedBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 1)
		}),
	})
	s.DropConnections(http.MethodGet, "/flaky/_changes", 100)
	c := newCollector()
	if _, err := db.Subscribe(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-c.errs:
		if status := HTTPStatus(err); status != http.StatusBadGateway {
			t.Errorf("Unexpected status %d: %s", status, err)
		}
	case <-time.After(feedTimeout):
		t.Fatal("Timed out waiting for feed error")
	}
	waitForState(t, db, FeedIdle)
}

func TestSubscribe_restart(t *testing.T) {
	_, db := newTestDB(t, "restart")
	ctx := context.Background()
	first := newCollector()
	sub, err := db.Subscribe(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	saveDocs(t, db, "missed")

	second := newCollector()
	sub, err = db.Subscribe(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	saveDocs(t, db, "seen")
	if e := second.next(t); e.ID != "seen" {
		t.Errorf("Unexpected event: %+v", e)
	}
}

func TestSubscribe_fromFeedError(t *testing.T) {
	s, db := newTestDB(t, "again")
	s.DropConnections(http.MethodGet, "/again/_changes", 1)
	ctx := context.Background()
	second := newCollector()
	resubscribed := make(chan error, 1)
	var once sync.Once
	first := &errorListener{
		ChangeListener: ChangeListenerFunc(func(*ChangeEvent) {}),
		onError: func(error) {
			once.Do(func() {
				_, err := db.Subscribe(ctx, second)
				resubscribed <- err
			})
		},
	}
	if _, err := db.Subscribe(ctx, first); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-resubscribed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(feedTimeout):
		t.Fatalf("Subscribe from OnFeedError did not return; feed state is %s", db.FeedState())
	}
	waitForState(t, db, FeedStreaming)
	saveDocs(t, db, "a")
	if e := second.next(t); e.ID != "a" {
		t.Errorf("Unexpected event: %+v", e)
	}
}

func TestSubscribe_restartFromListener(t *testing.T) {
	_, db := newTestDB(t, "handoff")
	ctx := context.Background()
	second := newCollector()
	resubscribed := make(chan error, 1)
	var sub *Subscription
	var once sync.Once
	ready := make(chan struct{})
	listener := ChangeListenerFunc(func(*ChangeEvent) {
		<-ready
		once.Do(func() {
			sub.Cancel()
			_, err := db.Subscribe(ctx, second)
			resubscribed <- err
		})
	})
	var err error
	sub, err = db.Subscribe(ctx, listener)
	if err != nil {
		t.Fatal(err)
	}
	close(ready)
	saveDocs(t, db, "a")
	select {
	case err := <-resubscribed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(feedTimeout):
		t.Fatal("Subscribe from OnChange did not return")
	}
	saveDocs(t, db, "b")
	if e := second.next(t); e.ID != "b" {
		t.Errorf("Unexpected event: %+v", e)
	}
}

func TestSubscribe_closeFromListener(t *testing.T) {
	_, db := newTestDB(t, "closing")
	ctx := context.Background()
	closed := make(chan error, 1)
	var once sync.Once
	listener := ChangeListenerFunc(func(*ChangeEvent) {
		once.Do(func() {
			closed <- db.Client().Close()
		})
	})
	if _, err := db.Subscribe(ctx, listener); err != nil {
		t.Fatal(err)
	}
	saveDocs(t, db, "a")
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(feedTimeout):
		t.Fatal("Close from OnChange did not return")
	}
	waitForState(t, db, FeedIdle)
	if _, err := db.Subscribe(ctx, newCollector()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Unexpected error: %v", err)
	}
}

// errorListener is a ChangeErrorListener built from functions.
type errorListener struct {
	ChangeListener
	onError func(error)
}

func (l *errorListener) OnFeedError(err error) { l.onError(err) }

func TestSubscribe_nilListener(t *testing.T) {
	_, db := newTestDB(t, "nil")
	if _, err := db.Subscribe(context.Background(), nil); HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestChangeEventSeqNumber(t *testing.T) {
	tests := map[string]int64{
		"":                 0,
		"42":               42,
		"7-g1AAAAFTeJzLYW": 7,
		"garbage":          0,
	}
	for seq, want := range tests {
		if got := (&ChangeEvent{Seq: seq}).SeqNumber(); got != want {
			t.Errorf("SeqNumber(%q) = %d, want %d", seq, got, want)
		}
	}
}

func TestFeedStateString(t *testing.T) {
	tests := map[FeedState]string{
		FeedIdle:         "idle",
		FeedConnecting:   "connecting",
		FeedStreaming:    "streaming",
		FeedReconnecting: "reconnecting",
		FeedState(9):     "FeedState(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Unexpected string: %s, want %s", got, want)
		}
	}
}

func TestChangeRecord_numericSeq(t *testing.T) {
	rec := &changeRecord{}
	if err := json.Unmarshal([]byte(`{"seq":12,"id":"x","changes":[{"rev":"1-a"}]}`), rec); err != nil {
		t.Fatal(err)
	}
	if e := rec.event(); e.Seq != "12" || e.SeqNumber() != 12 {
		t.Errorf("Unexpected event: %+v", e)
	}
}
