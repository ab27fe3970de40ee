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

type deleteDoc struct {
	*root
	rev string
}

func deleteCmd(r *root) *cobra.Command {
	c := &deleteDoc{root: r}
	cmd := &cobra.Command{
		Use:   "delete [database] [document]",
		Short: "Delete a document",
		Long: `Delete a document. Without --rev, the current revision is fetched
first, and deleted.`,
		Args: cobra.ExactArgs(2), // nolint:gomnd
		RunE: c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Revision to delete")
	return cmd
}

func (c *deleteDoc) RunE(cmd *cobra.Command, args []string) error {
	dbName, docID := args[0], args[1]
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()
	db, err := c.db(ctx, dbName)
	if err != nil {
		return err
	}
	var res *sofa.ServerResponse
	if c.rev != "" {
		c.log.Debugf("[delete] Will delete %s/%s at rev %s", dbName, docID, c.rev)
		res, err = db.Delete(ctx, docID, c.rev)
	} else {
		c.log.Debugf("[delete] Will delete current revision of %s/%s", dbName, docID)
		var doc *sofa.Document
		if doc, err = db.Get(ctx, docID); err == nil {
			res, err = db.DeleteDoc(ctx, doc)
		}
	}
	if err != nil {
		return err
	}
	return c.output(cmd, res)
}
