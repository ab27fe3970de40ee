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

package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

func TestInputDocument(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "doc.yaml")
	if err := os.WriteFile(yamlFile, []byte("name: Bob\ntags:\n  - a\n  - b\naddress:\n  city: Oslo\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	type tt struct {
		input *Input
		want  map[string]interface{}
		code  int
		err   string
	}

	tests := testy.NewTable()
	tests.Add("json data", tt{
		input: &Input{data: `{"foo":"bar"}`},
		want:  map[string]interface{}{"foo": "bar"},
	})
	tests.Add("yaml data", tt{
		input: &Input{data: "foo: bar\nn: 1\n", yaml: true},
		want:  map[string]interface{}{"foo": "bar", "n": 1},
	})
	tests.Add("yaml file", tt{
		input: &Input{file: yamlFile},
		want: map[string]interface{}{
			"name":    "Bob",
			"tags":    []interface{}{"a", "b"},
			"address": map[string]interface{}{"city": "Oslo"},
		},
	})
	tests.Add("stdin", tt{
		input: &Input{file: "-", stdin: strings.NewReader(`{"x":true}`)},
		want:  map[string]interface{}{"x": true},
	})
	tests.Add("no input", tt{
		input: &Input{},
		code:  errors.ErrUsage,
		err:   "no data provided; use --data or --data-file",
	})
	tests.Add("missing file", tt{
		input: &Input{file: filepath.Join(dir, "nope.json")},
		code:  errors.ErrNoInput,
		err:   "no such file or directory",
	})
	tests.Add("invalid json", tt{
		input: &Input{data: `{`},
		code:  errors.ErrData,
		err:   "unexpected end of JSON input",
	})
	tests.Add("not an object", tt{
		input: &Input{data: `[1,2]`},
		code:  errors.ErrData,
		err:   "document data must be an object",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		got, err := tt.input.Document()
		if code := errors.InspectErrorCode(err); code != tt.code {
			t.Errorf("Unexpected exit code: %d", code)
		}
		testy.ErrorRE(t, tt.err, err)
		if d := cmp.Diff(tt.want, got); d != "" {
			t.Error(d)
		}
	})
}
