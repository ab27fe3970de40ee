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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
	"github.com/go-kivik/sofa/cmd/sofa/log"
	"github.com/go-kivik/sofa/internal/couchtest"
)

type cmdTest struct {
	args  []string
	stdin string
	// status is the expected exit status.
	status int
	// stdout is compared to the normalized output, unless empty.
	stdout string
	// stderr is a regular expression which must match stderr, unless empty.
	stderr string
}

type replacement struct {
	re   *regexp.Regexp
	repl string
}

var standardReplacements = []replacement{
	{re: regexp.MustCompile(`(\d+)-[0-9a-f]{32}`), repl: "${1}-xxx"},
	{re: regexp.MustCompile(`(\d+)-g1AAAAFTeJzLYWBg`), repl: "${1}-seq"},
	{re: regexp.MustCompile(`http://127\.0\.0\.1:\d+/`), repl: "http://127.0.0.1:XXX/"},
	{re: regexp.MustCompile(`go\d\.\d+(\.\d+)?`), repl: "goX.XX.X"},
}

func normalize(s string) string {
	for _, r := range standardReplacements {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// run executes the command, and returns its exit status and output.
func (tt *cmdTest) run(ctx context.Context) (status int, stdout, stderr string) {
	root := rootCmd(log.New())
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root.cmd.SetArgs(tt.args)
	root.cmd.SetIn(strings.NewReader(tt.stdin))
	root.cmd.SetOut(out)
	root.cmd.SetErr(errOut)
	status = root.execute(ctx)
	return status, out.String(), errOut.String()
}

func (tt *cmdTest) Test(t *testing.T) {
	t.Helper()
	status, stdout, stderr := tt.run(context.Background())
	if tt.status != status {
		t.Errorf("Unexpected exit status. Want %d, got %d\nSTDERR: %s", tt.status, status, stderr)
	}
	if tt.stdout != "" {
		if d := testy.DiffText(tt.stdout, normalize(stdout)); d != nil {
			t.Errorf("STDOUT: %s", d)
		}
	}
	if tt.stderr != "" && !regexp.MustCompile(tt.stderr).MatchString(stderr) {
		t.Errorf("Unexpected STDERR: %s", stderr)
	}
}

// testServer starts a fake server, and stores docs in the named databases.
// It returns the server, its DSN, and the revision of each stored document.
func testServer(t *testing.T, docs map[string][]map[string]interface{}) (*couchtest.Server, string, map[string]string) {
	t.Helper()
	s := couchtest.New()
	ts := s.Serve(t)
	dsn := ts.URL + "/"
	revs := map[string]string{}
	if len(docs) == 0 {
		return s, dsn, revs
	}
	client, err := sofa.New(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close() // nolint:errcheck
	ctx := context.Background()
	for name, dbDocs := range docs {
		db, err := client.DB(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		for _, doc := range dbDocs {
			res, err := db.Save(ctx, sofa.NewDocument(doc))
			if err != nil {
				t.Fatal(err)
			}
			revs[res.ID] = res.Rev
		}
	}
	return s, dsn, revs
}

func Test_root_RunE(t *testing.T) {
	tests := testy.NewTable()
	tests.Add("unknown flag", cmdTest{
		args:   []string{"--bogus"},
		status: errors.ErrUsage,
		stderr: "unknown flag: --bogus",
	})
	tests.Add("unknown command", cmdTest{
		args:   []string{"bogus"},
		status: errors.ErrUsage,
		stderr: `unknown command "bogus"`,
	})
	tests.Add("missing dsn", cmdTest{
		args:   []string{"get", "db", "doc"},
		status: errors.ErrUsage,
		stderr: "server DSN required",
	})
	tests.Add("invalid dsn", cmdTest{
		args:   []string{"--dsn", "localhost", "get", "db", "doc"},
		status: errors.ErrUsage,
		stderr: "invalid DSN: localhost",
	})
	tests.Add("wrong arg count", cmdTest{
		args:   []string{"--dsn", "http://localhost:5984/", "get", "db"},
		status: errors.ErrUsage,
		stderr: "accepts 2 arg",
	})
	tests.Add("negative timeout", cmdTest{
		args:   []string{"--timeout", "-1s", "version"},
		status: errors.ErrUsage,
		stderr: "negative timeout not permitted",
	})
	tests.Add("retry delay invalid", cmdTest{
		args:   []string{"--retry", "3", "--retry-delay", "oink", "version"},
		status: errors.ErrUsage,
		stderr: `time: invalid duration "?oink"?`,
	})
	tests.Add("missing config file", cmdTest{
		args:   []string{"--config", "./testdata/missing.yaml", "version"},
		status: errors.ErrUsage,
	})
	tests.Add("version", cmdTest{
		args: []string{"version"},
		stdout: `{
  "go": "goX.XX.X",
  "sofa": "` + sofa.Version + `"
}
`,
	})
	tests.Add("version yaml", cmdTest{
		args: []string{"version", "-f", "yaml"},
		stdout: `go: goX.XX.X
sofa: ` + sofa.Version + `
`,
	})
	tests.Add("unknown format", cmdTest{
		args:   []string{"version", "--format", "xml"},
		status: errors.ErrUsage,
		stderr: `unrecognized output format "xml"`,
	})
	tests.Add("unreachable", cmdTest{
		args:   []string{"--dsn", "http://127.0.0.1:1/", "--retries", "0", "get", "db", "doc"},
		status: errors.ErrUnavailable,
	})
	tests.Add("retry", cmdTest{
		args:   []string{"--dsn", "http://127.0.0.1:1/", "--retries", "0", "--retry", "2", "--retry-delay", "0", "get", "db", "doc"},
		status: errors.ErrUnavailable,
		stderr: `(?s)Warning: Transient problem: .*Will retry in 0\.00s\. 1 retries left\..*Warning: Transient problem: .*Will retry in 0\.00s\.\n`,
	})
	tests.Add("retry delay", cmdTest{
		args:   []string{"--dsn", "http://127.0.0.1:1/", "--retries", "0", "--retry", "1", "--retry-delay", "15ms", "get", "db", "doc"},
		status: errors.ErrUnavailable,
		stderr: `Will retry in 0\.0\ds`,
	})
	tests.Add("retry max time", cmdTest{
		args:   []string{"--dsn", "http://127.0.0.1:1/", "--retries", "0", "--retry", "100", "--retry-delay", "40ms", "--retry-timeout", "100ms", "get", "db", "doc"},
		status: errors.ErrUnavailable,
	})
	tests.Add("config file", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, map[string][]map[string]interface{}{
			"db": {{"_id": "doc", "foo": "bar"}},
		})
		file := filepath.Join(t.TempDir(), "sofa.yaml")
		conf := "dsn: " + dsn + "\nformat: yaml\nretries: 1\n"
		if err := os.WriteFile(file, []byte(conf), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args: []string{"--config", file, "get", "db", "doc"},
			stdout: `_id: doc
_rev: 1-xxx
foo: bar
`,
		}
	})
	tests.Add("flag overrides config file", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, map[string][]map[string]interface{}{
			"db": {{"_id": "doc", "foo": "bar"}},
		})
		file := filepath.Join(t.TempDir(), "sofa.yaml")
		conf := "dsn: http://127.0.0.1:1/\nformat: yaml\n"
		if err := os.WriteFile(file, []byte(conf), 0o600); err != nil {
			t.Fatal(err)
		}
		return cmdTest{
			args: []string{"--config", file, "--dsn", dsn, "-f", "json", "get", "db", "doc"},
			stdout: `{
  "_id": "doc",
  "_rev": "1-xxx",
  "foo": "bar"
}
`,
		}
	})
	tests.Add("debug", func(t *testing.T) interface{} {
		_, dsn, _ := testServer(t, map[string][]map[string]interface{}{
			"db": {{"_id": "doc"}},
		})
		return cmdTest{
			args:   []string{"--debug", "--dsn", dsn, "get", "db", "doc"},
			stderr: `(?s)Debug mode enabled.*\[get\] Will fetch document: db/doc`,
		}
	})

	tests.Run(t, func(t *testing.T, tt cmdTest) {
		tt.Test(t)
	})
}

func Test_request_timeout(t *testing.T) {
	s, dsn, _ := testServer(t, nil)
	s.Database("db")
	tt := cmdTest{
		args:   []string{"--dsn", dsn, "--retries", "0", "--timeout", "1ns", "get", "db", "doc"},
		status: errors.ErrUnavailable,
	}
	tt.Test(t)
}

func Test_parseDuration(t *testing.T) {
	type tt struct {
		input string
		want  string
		err   string
	}

	tests := testy.NewTable()
	tests.Add("empty", tt{
		want: "0s",
	})
	tests.Add("invalid", tt{
		input: "bogus",
		err:   `time: invalid duration "?bogus"?`,
	})
	tests.Add("ms", tt{
		input: "100ms",
		want:  "100ms",
	})
	tests.Add("default to seconds", tt{
		input: "15",
		want:  "15s",
	})
	tests.Add("fractional seconds", tt{
		input: "1.5",
		want:  "1.5s",
	})
	tests.Add("negative", tt{
		input: "-1.5s",
		err:   "negative timeout not permitted",
	})
	tests.Add("negative seconds", tt{
		input: "-1.5",
		err:   "negative timeout not permitted",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		got, err := parseDuration(tt.input)
		testy.ErrorRE(t, tt.err, err)
		if got.String() != tt.want {
			t.Errorf("Want: %s\n Got: %s", tt.want, got)
		}
	})
}

func Test_fmtDuration(t *testing.T) {
	type tt struct {
		d    time.Duration
		want string
	}

	tests := testy.NewTable()
	tests.Add("1.8s", tt{
		d:    1800 * time.Millisecond,
		want: "1.80s",
	})
	tests.Add("3m2s", tt{
		d:    182 * time.Second,
		want: "3m2s",
	})
	tests.Add("1h3m4s", tt{
		d:    63*time.Minute + 4*time.Second,
		want: "1h3m",
	})
	tests.Add("3d1h3m4s", tt{
		d:    3*24*time.Hour + 63*time.Minute + 4*time.Second,
		want: "3d1h3m",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		got := fmtDuration(tt.d)
		if got != tt.want {
			t.Errorf("Want: %s\n Got: %s", tt.want, got)
		}
	})
}
