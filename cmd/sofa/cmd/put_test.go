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

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

func Test_put_RunE(t *testing.T) {
	tests := testy.NewTable()

	tests.Add("no data", cmdTest{
		args:   []string{"--dsn", "http://localhost:5984/", "put", "db", "doc"},
		status: errors.ErrUsage,
		stderr: "no data provided",
	})
	tests.Add("invalid json", cmdTest{
		args:   []string{"--dsn", "http://localhost:5984/", "put", "db", "doc", "--data", "{"},
		status: errors.ErrData,
	})
	tests.Add("not an object", cmdTest{
		args:   []string{"--dsn", "http://localhost:5984/", "put", "db", "doc", "--data", "[1,2]"},
		status: errors.ErrData,
		stderr: "document data must be an object",
	})
	tests.Add("missing file", cmdTest{
		args:   []string{"--dsn", "http://localhost:5984/", "put", "db", "doc", "--data-file", "./testdata/missing.json"},
		status: errors.ErrNoInput,
	})
	tests.Add("create with id", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, nil)
		return cmdTest{
			args: []string{"--dsn", dsn, "put", "db", "doc", "--data", `{"foo":"bar"}`},
			stdout: `{
  "id": "doc",
  "rev": "1-xxx",
  "ok": true
}
`,
		}
	})
	tests.Add("id from data", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, nil)
		return cmdTest{
			args: []string{"--dsn", dsn, "put", "db", "--data", `{"_id":"fromdata"}`, "-f", "yaml"},
			stdout: `id: fromdata
ok: true
rev: 1-xxx
`,
		}
	})
	tests.Add("yaml from stdin", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, nil)
		return cmdTest{
			args:  []string{"--dsn", dsn, "put", "db", "doc", "--data-file", "-", "--yaml"},
			stdin: "foo: bar\nlist:\n  - 1\n  - 2\n",
			stdout: `{
  "id": "doc",
  "rev": "1-xxx",
  "ok": true
}
`,
		}
	})
	tests.Add("yaml file", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, nil)
		file := filepath.Join(t.TempDir(), "doc.yml")
		if err := os.WriteFile(file, []byte("_id: yamldoc\nnested:\n  a: 1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args: []string{"--dsn", dsn, "put", "db", "-D", file},
			stdout: `{
  "id": "yamldoc",
  "rev": "1-xxx",
  "ok": true
}
`,
		}
	})
	tests.Add("conflict", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, map[string][]map[string]interface{}{
			"db": {{"_id": "doc"}},
		})
		return cmdTest{
			args:   []string{"--dsn", dsn, "put", "db", "doc", "--data", `{"foo":"bar"}`},
			status: errors.ErrConflict,
		}
	})
	tests.Add("update", func(t *testing.T) interface{} {
		_, dsn, revs := testServer(t, map[string][]map[string]interface{}{
			"db": {{"_id": "doc"}},
		})
		return cmdTest{
			args: []string{"--dsn", dsn, "put", "db", "doc", "--data", `{"_rev":"` + revs["doc"] + `","foo":"bar"}`},
			stdout: `{
  "id": "doc",
  "rev": "2-xxx",
  "ok": true
}
`,
		}
	})

	tests.Run(t, func(t *testing.T, tt cmdTest) {
		tt.Test(t)
	})
}

func Test_put_serverAssignedID(t *testing.T) {
	_, dsn, _ := testServer(t, nil)
	tt := cmdTest{
		args: []string{"--dsn", dsn, "put", "db", "--data", `{"foo":"bar"}`},
	}
	status, stdout, stderr := tt.run(context.Background())
	if status != 0 {
		t.Fatalf("Unexpected exit status %d: %s", status, stderr)
	}
	if !regexp.MustCompile(`"id": "[0-9a-f]{32}"`).MatchString(stdout) {
		t.Errorf("Expected a server-assigned ID, got: %s", stdout)
	}
}
