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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
	"github.com/go-kivik/sofa/cmd/sofa/input"
)

func attachmentCmd(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attachment",
		Aliases: []string{"att"},
		Short:   "Manage document attachments",
	}
	cmd.AddCommand(getAttachmentCmd(r))
	cmd.AddCommand(putAttachmentCmd(r))
	cmd.AddCommand(deleteAttachmentCmd(r))
	return cmd
}

type getAttachment struct {
	*root
	out string
}

func getAttachmentCmd(r *root) *cobra.Command {
	c := &getAttachment{root: r}
	cmd := &cobra.Command{
		Use:   "get [database] [document] [filename]",
		Short: "Fetch an attachment",
		Long:  `Fetch the content of an attachment, and write it to stdout or a file.`,
		Args:  cobra.ExactArgs(3), // nolint:gomnd
		RunE:  c.RunE,
	}
	cmd.Flags().StringVarP(&c.out, "output", "o", "", "Write content to the named file, rather than stdout")
	return cmd
}

func (c *getAttachment) RunE(cmd *cobra.Command, args []string) error {
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()
	db, err := c.db(ctx, args[0])
	if err != nil {
		return err
	}
	att, err := db.GetAttachment(ctx, args[1], args[2])
	if err != nil {
		return err
	}
	defer att.Close() // nolint:errcheck
	c.log.Debugf("[attachment] %s: %s, %d bytes, digest %s", att.Name, att.ContentType, att.Length, att.Digest)

	w := cmd.OutOrStdout()
	if c.out != "" {
		f, err := os.Create(c.out)
		if err != nil {
			return errors.Code(errors.ErrCantCreate, err)
		}
		defer f.Close() // nolint:errcheck
		w = f
	}
	if _, err := io.Copy(w, att); err != nil {
		return errors.Code(errors.ErrIO, err)
	}
	return nil
}

type putAttachment struct {
	*root
	rev         string
	contentType string
	input       *input.Input
}

func putAttachmentCmd(r *root) *cobra.Command {
	c := &putAttachment{
		root:  r,
		input: input.New(),
	}
	cmd := &cobra.Command{
		Use:   "put [database] [document] [filename]",
		Short: "Store an attachment",
		Long: `Store an attachment. Without --content-type, the content type is
detected from the content. The document is created if it does not exist.`,
		Args: cobra.ExactArgs(3), // nolint:gomnd
		RunE: c.RunE,
	}
	f := cmd.Flags()
	f.StringVar(&c.rev, "rev", "", "Current revision of the document")
	f.StringVar(&c.contentType, "content-type", "", "Content type of the attachment")
	c.input.ConfigFlags(f)
	return cmd
}

func (c *putAttachment) RunE(cmd *cobra.Command, args []string) error {
	c.input.SetStdin(cmd.InOrStdin())
	content, err := c.input.RawData()
	if err != nil {
		return err
	}
	defer content.Close() // nolint:errcheck
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()
	db, err := c.db(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := db.PutAttachment(ctx, args[1], c.rev, args[2], c.contentType, content)
	if err != nil {
		return err
	}
	return c.output(cmd, res)
}

type deleteAttachment struct {
	*root
	rev string
}

func deleteAttachmentCmd(r *root) *cobra.Command {
	c := &deleteAttachment{root: r}
	cmd := &cobra.Command{
		Use:   "delete [database] [document] [filename]",
		Short: "Delete an attachment",
		Args:  cobra.ExactArgs(3), // nolint:gomnd
		RunE:  c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Current revision of the document")
	return cmd
}

func (c *deleteAttachment) RunE(cmd *cobra.Command, args []string) error {
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()
	db, err := c.db(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := db.DeleteAttachment(ctx, args[1], c.rev, args[2])
	if err != nil {
		return err
	}
	return c.output(cmd, res)
}
