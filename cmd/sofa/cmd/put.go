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
	"github.com/go-kivik/sofa/cmd/sofa/input"
)

type putDoc struct {
	*root
	input *input.Input
}

func putCmd(r *root) *cobra.Command {
	c := &putDoc{
		root:  r,
		input: input.New(),
	}
	cmd := &cobra.Command{
		Use:   "put [database] [document]",
		Short: "Create or update a document",
		Long: `Store a document. The document ID may be given as an argument, or in
the _id field of the document data. Without either, the server assigns one.
To update an existing document, include its current _rev.`,
		Args: cobra.RangeArgs(1, 2), // nolint:gomnd
		RunE: c.RunE,
	}
	c.input.ConfigFlags(cmd.Flags())
	return cmd
}

func (c *putDoc) RunE(cmd *cobra.Command, args []string) error {
	c.input.SetStdin(cmd.InOrStdin())
	attrs, err := c.input.Document()
	if err != nil {
		return err
	}
	doc := sofa.NewDocument(attrs)
	if len(args) > 1 {
		if err := doc.SetID(args[1]); err != nil {
			return err
		}
	}
	c.log.Debugf("[put] Will store document %q in %s", doc.ID(), args[0])
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()
	db, err := c.db(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := db.Save(ctx, doc)
	if err != nil {
		return err
	}
	return c.output(cmd, res)
}
