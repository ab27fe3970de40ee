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
	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
)

type getDoc struct {
	*root
	rev string
}

func getCmd(r *root) *cobra.Command {
	c := &getDoc{root: r}
	cmd := &cobra.Command{
		Use:   "get [database] [document]",
		Short: "Get a document",
		Long:  `Fetch a document, and print its JSON representation.`,
		Args:  cobra.ExactArgs(2), // nolint:gomnd
		RunE:  c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Fetch the named revision, rather than the latest")
	return cmd
}

func (c *getDoc) RunE(cmd *cobra.Command, args []string) error {
	dbName, docID := args[0], args[1]
	c.log.Debugf("[get] Will fetch document: %s/%s", dbName, docID)
	var opts []sofa.Option
	if c.rev != "" {
		opts = append(opts, sofa.Rev(c.rev))
	}
	return c.retry(func() error {
		ctx, cancel := c.withTimeout(cmd.Context())
		defer cancel()
		db, err := c.db(ctx, dbName)
		if err != nil {
			return err
		}
		doc, err := db.Get(ctx, docID, opts...)
		if err != nil {
			return err
		}
		return c.output(cmd, doc)
	})
}
