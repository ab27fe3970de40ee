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

package collate

import (
	"encoding/json"
	"sort"
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestCompareJSON(t *testing.T) {
	keys := Keys{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`["a","b"]`),
		json.RawMessage(`"b"`),
		json.RawMessage(`2`),
		json.RawMessage(`true`),
		json.RawMessage(`"a"`),
		json.RawMessage(`["a"]`),
		json.RawMessage(`false`),
		json.RawMessage(`null`),
		json.RawMessage(`1.5`),
	}
	sort.Sort(keys)
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = string(k)
	}
	want := []string{`null`, `false`, `true`, `1.5`, `2`, `"a"`, `"b"`, `["a"]`, `["a","b"]`, `{"a":1}`}
	if d := testy.DiffInterface(want, got); d != nil {
		t.Error(d)
	}
}

func TestCompareJSON_equal(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "identical", a: `"x"`, b: `"x"`, want: 0},
		{name: "whitespace", a: ` 1`, b: `1`, want: 0},
		{name: "empty first", a: ``, b: `null`, want: -1},
		{name: "object key order", a: `{"a":1,"b":2}`, b: `{"b":2,"a":1}`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareJSON(json.RawMessage(tt.a), json.RawMessage(tt.b)); got != tt.want {
				t.Errorf("Unexpected result: %d", got)
			}
		})
	}
}
