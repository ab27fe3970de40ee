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
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

type queryView struct {
	*root
	key, startKey, endKey string
	limit, skip           int
	groupLevel            int
	descending            bool
	includeDocs           bool
	reduce                bool
	group                 bool
}

func queryCmd(r *root) *cobra.Command {
	c := &queryView{root: r}
	cmd := &cobra.Command{
		Use:   "query [database] [view]",
		Short: "Query a view",
		Long: `Query a view. The view is named as design/view, or _all_docs. Keys are
given as JSON, so string keys must be quoted.`,
		Example: `  sofa query people by/city --key '"Paris"' --include-docs
  sofa query people by/city --reduce --group-level 1`,
		Args: cobra.ExactArgs(2), // nolint:gomnd
		RunE: c.RunE,
	}
	f := cmd.Flags()
	f.StringVar(&c.key, "key", "", "Return only rows matching this JSON key")
	f.StringVar(&c.startKey, "start-key", "", "JSON key at which to start")
	f.StringVar(&c.endKey, "end-key", "", "JSON key at which to end")
	f.IntVar(&c.limit, "limit", 0, "Maximum number of rows to return")
	f.IntVar(&c.skip, "skip", 0, "Number of rows to skip")
	f.BoolVar(&c.descending, "descending", false, "Return rows in descending key order")
	f.BoolVar(&c.includeDocs, "include-docs", false, "Include the emitting document in each row")
	f.BoolVar(&c.reduce, "reduce", false, "Apply the view's reduce function. Views which have one reduce by default.")
	f.BoolVar(&c.group, "group", false, "Group reduced results by key")
	f.IntVar(&c.groupLevel, "group-level", 0, "Group reduced results by this many elements of array keys")
	return cmd
}

func parseKey(flag, val string) (interface{}, error) {
	var key interface{}
	if err := json.Unmarshal([]byte(val), &key); err != nil {
		return nil, errors.Codef(errors.ErrUsage, "invalid --%s: %s", flag, err)
	}
	return key, nil
}

// viewQuery builds the query described by the command flags.
func (c *queryView) viewQuery(cmd *cobra.Command, view string) (*sofa.ViewQuery, error) {
	q := sofa.NewViewQuery(view)
	f := cmd.Flags()
	for _, k := range []struct {
		flag string
		val  string
		set  func(...interface{}) *sofa.ViewQuery
	}{
		{"key", c.key, q.Key},
		{"start-key", c.startKey, q.StartKey},
		{"end-key", c.endKey, q.EndKey},
	} {
		if !f.Changed(k.flag) {
			continue
		}
		key, err := parseKey(k.flag, k.val)
		if err != nil {
			return nil, err
		}
		k.set(key)
	}
	if f.Changed("limit") {
		q.Limit(c.limit)
	}
	if f.Changed("skip") {
		q.Skip(c.skip)
	}
	if f.Changed("group-level") {
		q.GroupLevel(c.groupLevel)
	}
	if f.Changed("group") {
		q.Group(c.group)
	}
	if f.Changed("descending") {
		q.Descending(c.descending)
	}
	if f.Changed("include-docs") {
		q.IncludeDocs(c.includeDocs)
	}
	if f.Changed("reduce") {
		q.Reduce(c.reduce)
	}
	if err := q.Err(); err != nil {
		return nil, errors.WithCode(err, errors.ErrUsage)
	}
	return q, nil
}

func (c *queryView) RunE(cmd *cobra.Command, args []string) error {
	q, err := c.viewQuery(cmd, args[1])
	if err != nil {
		return err
	}
	c.log.Debugf("[query] Will query %s: %s", args[0], q)
	return c.retry(func() error {
		ctx, cancel := c.withTimeout(cmd.Context())
		defer cancel()
		db, err := c.db(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := db.Query(ctx, q)
		if err != nil {
			return err
		}
		return c.output(cmd, res)
	})
}
