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
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gitlab.com/flimzy/testy"
)

func TestViewQueryPath(t *testing.T) {
	type tt struct {
		query  *ViewQuery
		path   string
		status int
		err    string
	}

	tests := testy.NewTable()
	tests.Add("shorthand name", tt{
		query: NewViewQuery("users/by_name"),
		path:  "_design/users/_view/by_name",
	})
	tests.Add("explicit design document", tt{
		query: NewViewQuery("by_name").Document("users"),
		path:  "_design/users/_view/by_name",
	})
	tests.Add("explicit design document with prefix", tt{
		query: NewViewQuery("by_name").Document("_design/users"),
		path:  "_design/users/_view/by_name",
	})
	tests.Add("too many slashes", tt{
		query:  NewViewQuery("a/b/c"),
		status: http.StatusBadRequest,
		err:    `sofa: view name "a/b/c" contains more than one '/'`,
	})
	tests.Add("missing design document", tt{
		query:  NewViewQuery("by_name"),
		status: http.StatusBadRequest,
		err:    `sofa: design document required for view "by_name"`,
	})
	tests.Add("missing view", tt{
		query:  NewViewQuery(""),
		status: http.StatusBadRequest,
		err:    "sofa: view name required",
	})
	tests.Add("reserved name", tt{
		query: NewViewQuery("_all_docs").IncludeDocs(true),
		path:  "_all_docs?include_docs=true",
	})
	tests.Add("reserved name with slash", tt{
		query: NewViewQuery("_local/cache"),
		path:  "_local/cache",
	})
	tests.Add("reserved name, too many slashes", tt{
		query:  NewViewQuery("_foo/a/b"),
		status: http.StatusBadRequest,
		err:    `sofa: view name "_foo/a/b" contains more than one '/'`,
	})
	tests.Add("parameters in insertion order", tt{
		query: NewViewQuery("a/b").Limit(10).Descending(true).Skip(2),
		path:  "_design/a/_view/b?limit=10&descending=true&skip=2",
	})
	tests.Add("repeated parameter replaces value", tt{
		query: NewViewQuery("a/b").Limit(10).Reduce(false).Limit(5),
		path:  "_design/a/_view/b?limit=5&reduce=false",
	})
	tests.Add("single key", tt{
		query: NewViewQuery("a/b").Key("foo"),
		path:  "_design/a/_view/b?key=%22foo%22",
	})
	tests.Add("compound key", tt{
		query: NewViewQuery("a/b").StartKey("foo", 1).EndKey("foo", map[string]interface{}{}),
		path:  "_design/a/_view/b?startkey=%5B%22foo%22%2C1%5D&endkey=%5B%22foo%22%2C%7B%7D%5D",
	})
	tests.Add("empty key", tt{
		query:  NewViewQuery("a/b").Key(),
		status: http.StatusBadRequest,
		err:    "sofa: key requires at least one value",
	})
	tests.Add("unencodable key", tt{
		query:  NewViewQuery("a/b").Key(make(chan int)),
		status: http.StatusBadRequest,
		err:    "sofa: cannot encode key: json: unsupported type: chan int",
	})
	tests.Add("negative limit", tt{
		query:  NewViewQuery("a/b").Limit(-1),
		status: http.StatusBadRequest,
		err:    "sofa: limit must not be negative",
	})
	tests.Add("negative skip", tt{
		query:  NewViewQuery("a/b").Skip(-1),
		status: http.StatusBadRequest,
		err:    "sofa: skip must not be negative",
	})
	tests.Add("negative group level", tt{
		query:  NewViewQuery("a/b").GroupLevel(-2),
		status: http.StatusBadRequest,
		err:    "sofa: group_level must not be negative",
	})
	tests.Add("first error wins", tt{
		query:  NewViewQuery("a/b").Limit(-1).Skip(-1),
		status: http.StatusBadRequest,
		err:    "sofa: limit must not be negative",
	})
	tests.Add("invalid stale", tt{
		query:  NewViewQuery("a/b").Stale("never"),
		status: http.StatusBadRequest,
		err:    `sofa: invalid stale value "never"`,
	})
	tests.Add("grouping", tt{
		query: NewViewQuery("a/b").Group(true).GroupLevel(2).Stale(StaleUpdateAfter),
		path:  "_design/a/_view/b?group=true&group_level=2&stale=update_after",
	})
	tests.Add("doc id bounds", tt{
		query: NewViewQuery("a/b").StartKeyDocID("x").EndKeyDocID("y").InclusiveEnd(false),
		path:  "_design/a/_view/b?startkey_docid=%22x%22&endkey_docid=%22y%22&inclusive_end=false",
	})
	tests.Add("escaped names", tt{
		query: NewViewQuery("my ddoc/my view"),
		path:  "_design/my%20ddoc/_view/my%20view",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		path, err := tt.query.Path()
		if err != nil && !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Expected ErrInvalidQuery, got %v", err)
		}
		testy.StatusErrorRE(t, tt.err, tt.status, err)
		if path != tt.path {
			t.Errorf("Unexpected path.\nWant: %s\n Got: %s", tt.path, path)
		}
	})
}

func TestViewQueryEncode_roundTrip(t *testing.T) {
	key := []interface{}{"foo", 1.5, true, nil, map[string]interface{}{"a": "b&c"}}
	q := NewViewQuery("a/b").Key(key...)
	values, err := url.ParseQuery(q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	var got []interface{}
	if err := json.Unmarshal([]byte(values.Get("key")), &got); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(key, got); d != "" {
		t.Error(d)
	}
}

func TestViewQueryString(t *testing.T) {
	if got, want := NewViewQuery("a/b").Limit(1).String(), "_design/a/_view/b?limit=1"; got != want {
		t.Errorf("Unexpected string: %s", got)
	}
	if got, want := NewViewQuery("a/b/c").String(), `sofa: view name "a/b/c" contains more than one '/': invalid query`; got != want {
		t.Errorf("Unexpected string: %s", got)
	}
}
