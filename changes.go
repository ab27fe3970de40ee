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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/go-kivik/sofa/chttp"
)

// ChangeEvent is a single change of a document, as delivered by the change
// feed.
type ChangeEvent struct {
	// ID is the ID of the changed document.
	ID string
	// Seq is the update sequence of the change. Sequences are opaque strings
	// in CouchDB 2.x and later, and integers in CouchDB 1.x.
	Seq string
	// Changes lists the leaf revisions of the document.
	Changes []string
	// Deleted is true if the change deleted the document.
	Deleted bool
}

// SeqNumber returns the numeric prefix of the update sequence, or 0 if the
// sequence is not numeric. Numeric prefixes increase with every change to a
// database.
func (e *ChangeEvent) SeqNumber() int64 {
	prefix, _, _ := strings.Cut(e.Seq, "-")
	n, _ := strconv.ParseInt(prefix, 10, 64)
	return n
}

// ChangeListener receives change events from [DB.Subscribe]. OnChange is
// called on the feed's worker goroutine; a slow listener delays the delivery
// of subsequent events to every listener of the database. A listener may
// call back into the client, including [DB.Subscribe], [Subscription.Cancel]
// and [Client.Close].
type ChangeListener interface {
	OnChange(*ChangeEvent)
}

// ChangeListenerFunc is an adapter to allow the use of an ordinary function
// as a [ChangeListener].
type ChangeListenerFunc func(*ChangeEvent)

// OnChange calls f(e).
func (f ChangeListenerFunc) OnChange(e *ChangeEvent) {
	f(e)
}

// ChangeErrorListener is a [ChangeListener] which is also notified when the
// change feed stops because of an error. Listeners remain registered after
// such a failure; the next call to [DB.Subscribe] starts a new feed.
type ChangeErrorListener interface {
	ChangeListener
	OnFeedError(error)
}

// FeedState is the state of a database's change feed.
type FeedState int

// Change feed states.
const (
	// FeedIdle means no listeners are registered, and no connection is open.
	FeedIdle FeedState = iota
	// FeedConnecting means the feed is capturing its starting sequence.
	FeedConnecting
	// FeedStreaming means the feed connection is open.
	FeedStreaming
	// FeedReconnecting means the server closed the feed, and it is being
	// reopened from the last sequence.
	FeedReconnecting
)

func (s FeedState) String() string {
	switch s {
	case FeedIdle:
		return "idle"
	case FeedConnecting:
		return "connecting"
	case FeedStreaming:
		return "streaming"
	case FeedReconnecting:
		return "reconnecting"
	}
	return "FeedState(" + strconv.Itoa(int(s)) + ")"
}

// Subscription is a registered [ChangeListener]. Call Cancel to stop
// receiving events.
type Subscription struct {
	feed      *changeFeed
	listener  ChangeListener
	cancelled atomic.Bool
}

// Cancel removes the listener. When the last listener of a database is
// removed, the feed is stopped. An in-flight read may complete after Cancel
// returns, but its events are not delivered to this listener. Cancel is
// idempotent.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.feed.unsubscribe(s)
}

// Subscribe registers l to receive the changes of the database which occur
// after the call. The first listener of a database captures the current
// update sequence and starts the feed; further listeners join the running
// feed.
//
// Events are delivered in the order the server emits them, to every
// listener in registration order. A transport failure stops the feed: see
// [ChangeErrorListener] and [OptionFeedBackOff].
func (db *DB) Subscribe(ctx context.Context, l ChangeListener) (*Subscription, error) {
	endQuery, err := db.client.startQuery()
	if err != nil {
		return nil, err
	}
	defer endQuery()
	if l == nil {
		return nil, missingArg("listener")
	}
	return db.feed.subscribe(ctx, l)
}

// FeedState returns the current state of the database's change feed.
func (db *DB) FeedState() FeedState {
	return db.feed.currentState()
}

// feedWorker is one run of the feed loop.
type feedWorker struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
	// calling counts the listener callbacks in progress.
	calling atomic.Int32
	// prev is the worker this one replaced. It must exit before this one
	// opens the feed.
	prev *feedWorker
}

func newFeedWorker(prev *feedWorker) *feedWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &feedWorker{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   prev,
	}
}

// wait blocks until w has exited. A worker waiting on itself, from within a
// listener callback, returns at once.
func (w *feedWorker) wait() {
	if w.calling.Load() > 0 {
		return
	}
	<-w.done
}

// stop flags the worker to exit, and aborts its in-flight request.
func (w *feedWorker) stop() {
	w.stopped.Store(true)
	w.cancel()
}

// changeFeed fans out one continuous change feed to the listeners of a
// database. At most one worker runs at a time.
type changeFeed struct {
	db *DB

	// startMu serializes the start of workers.
	startMu sync.Mutex

	mu      sync.Mutex
	subs    []*Subscription
	state   FeedState
	worker  *feedWorker
	retired *feedWorker
}

func newChangeFeed(db *DB) *changeFeed {
	return &changeFeed{db: db}
}

func (f *changeFeed) currentState() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *changeFeed) subscribe(ctx context.Context, l ChangeListener) (*Subscription, error) {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	sub := &Subscription{feed: f, listener: l}

	f.mu.Lock()
	if f.worker != nil {
		f.subs = appendSub(f.subs, sub)
		f.mu.Unlock()
		return sub, nil
	}
	f.state = FeedConnecting
	f.mu.Unlock()

	since, err := f.db.updateSeq(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = FeedIdle
		return nil, err
	}
	f.subs = appendSub(f.subs, sub)
	w := newFeedWorker(f.retired)
	f.worker = w
	f.state = FeedStreaming
	go f.run(w, since)
	return sub, nil
}

// appendSub returns a new slice, so that snapshots taken by the dispatch
// loop are never modified.
func appendSub(subs []*Subscription, sub *Subscription) []*Subscription {
	updated := make([]*Subscription, 0, len(subs)+1)
	return append(append(updated, subs...), sub)
}

func (f *changeFeed) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	updated := make([]*Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		if s != sub {
			updated = append(updated, s)
		}
	}
	f.subs = updated
	if len(f.subs) == 0 {
		f.stopWorker()
	}
}

// stopWorker must be called with f.mu held.
func (f *changeFeed) stopWorker() {
	if f.worker == nil {
		return
	}
	f.worker.stop()
	f.retired = f.worker
	f.worker = nil
	f.state = FeedIdle
}

// shutdown removes every listener, and waits for the worker to exit, unless
// it is called from one of the worker's own listener callbacks.
func (f *changeFeed) shutdown() {
	f.mu.Lock()
	for _, sub := range f.subs {
		sub.cancelled.Store(true)
	}
	f.subs = nil
	f.stopWorker()
	retired := f.retired
	f.mu.Unlock()
	if retired != nil {
		retired.wait()
	}
}

func (f *changeFeed) snapshot() []*Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

// setState updates the state, if w is still the current worker.
func (f *changeFeed) setState(w *feedWorker, state FeedState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.worker == w {
		f.state = state
	}
}

func (f *changeFeed) logf(format string, args ...interface{}) {
	f.db.client.config.Logger.Printf("[%s] "+format, append([]interface{}{f.db.name}, args...)...)
}

// run is the worker loop. Each iteration opens the feed at cursor, and
// reads it until the server closes it with last_seq, which becomes the
// cursor of the next iteration.
func (f *changeFeed) run(w *feedWorker, since string) {
	defer close(w.done)
	defer w.cancel()
	if prev := w.prev; prev != nil {
		w.prev = nil
		select {
		case <-prev.done:
		case <-w.ctx.Done():
			prev.wait()
			return
		}
	}
	var bo backoff.BackOff
	if newBackOff := f.db.client.config.FeedBackOff; newBackOff != nil {
		bo = backoff.WithContext(newBackOff(), w.ctx)
	}
	f.logf("change feed started at sequence %s", since)
	cursor := since
	for !w.stopped.Load() {
		next, delivered, err := f.stream(w, cursor)
		cursor = next
		if w.stopped.Load() {
			break
		}
		if err != nil {
			if bo == nil {
				f.fail(w, err)
				return
			}
			if delivered {
				bo.Reset()
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				f.fail(w, err)
				return
			}
			f.logf("change feed failed: %s; reconnecting in %s", err, wait)
			f.setState(w, FeedReconnecting)
			if !sleep(w.ctx, wait) {
				break
			}
			continue
		}
		f.logf("change feed closed by server; resuming at sequence %s", cursor)
		f.setState(w, FeedReconnecting)
	}
	f.logf("change feed stopped")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail stops w after an error, and notifies the listeners which accept
// errors.
func (f *changeFeed) fail(w *feedWorker, err error) {
	f.logf("change feed failed: %s", err)
	f.mu.Lock()
	if f.worker != w {
		f.mu.Unlock()
		return
	}
	f.worker = nil
	f.retired = w
	f.state = FeedIdle
	subs := f.subs
	f.mu.Unlock()
	for _, sub := range subs {
		if el, ok := sub.listener.(ChangeErrorListener); ok {
			w.call(sub, func() { el.OnFeedError(err) })
		}
	}
}

// changesPath returns the path of the continuous feed, starting after
// since.
func (f *changeFeed) changesPath(since string) string {
	heartbeat := f.db.client.config.Heartbeat / time.Millisecond
	return f.db.path(fmt.Sprintf("_changes?feed=continuous&style=all_docs&since=%s&heartbeat=%d",
		url.QueryEscape(since), heartbeat))
}

// stream reads one connection of the feed. It returns the cursor from
// which to resume: the server's last_seq after a clean close, or the
// sequence of the last delivered event after a failure. delivered reports
// whether any event was delivered.
func (f *changeFeed) stream(w *feedWorker, cursor string) (next string, delivered bool, _ error) {
	f.setState(w, FeedStreaming)
	resp, err := f.db.client.transport.DoReq(w.ctx, http.MethodGet, f.changesPath(cursor), &chttp.Options{NoRetry: true})
	if err != nil {
		return cursor, false, err
	}
	defer chttp.CloseBody(resp.Body)
	if err := chttp.ResponseError(resp); err != nil {
		return cursor, false, err
	}
	r := bufio.NewReader(resp.Body)
	for !w.stopped.Load() {
		line, readErr := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			rec := &changeRecord{}
			if err := json.Unmarshal(line, rec); err != nil {
				return cursor, delivered, &Error{Status: http.StatusBadGateway, Err: err}
			}
			switch {
			case rec.Seq != nil:
				event := rec.event()
				cursor = event.Seq
				f.dispatch(w, event)
				delivered = true
			case rec.LastSeq != nil:
				return string(*rec.LastSeq), delivered, nil
			}
		}
		if readErr == io.EOF {
			return cursor, delivered, &Error{Status: http.StatusBadGateway, Message: "change feed closed without last_seq", Err: io.ErrUnexpectedEOF}
		}
		if readErr != nil {
			return cursor, delivered, &Error{Status: http.StatusBadGateway, Err: readErr}
		}
	}
	return cursor, delivered, nil
}

// dispatch delivers event to a snapshot of the listeners, in registration
// order.
func (f *changeFeed) dispatch(w *feedWorker, event *ChangeEvent) {
	for _, sub := range f.snapshot() {
		w.call(sub, func() { sub.listener.OnChange(event) })
	}
}

// call runs fn on behalf of sub, unless sub has been cancelled. The
// callback is counted before the cancellation check, so that shutdown
// either sees it in progress or prevents it.
func (w *feedWorker) call(sub *Subscription, fn func()) {
	w.calling.Add(1)
	defer w.calling.Add(-1)
	if !sub.cancelled.Load() {
		fn()
	}
}

// sequenceID is an update sequence, which is a JSON string in CouchDB 2.x
// and later, and a JSON number in CouchDB 1.x.
type sequenceID string

func (id *sequenceID) UnmarshalJSON(data []byte) error {
	*id = sequenceID(seqString(data))
	return nil
}

func seqString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// changeRecord is one line of the continuous feed.
type changeRecord struct {
	Seq     *sequenceID `json:"seq"`
	ID      string      `json:"id"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Deleted bool        `json:"deleted"`
	LastSeq *sequenceID `json:"last_seq"`
}

func (r *changeRecord) event() *ChangeEvent {
	revs := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		revs[i] = c.Rev
	}
	return &ChangeEvent{
		ID:      r.ID,
		Seq:     string(*r.Seq),
		Changes: revs,
		Deleted: r.Deleted,
	}
}
