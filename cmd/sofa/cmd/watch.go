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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-kivik/sofa"
)

type watch struct {
	*root
	count int
}

func watchCmd(r *root) *cobra.Command {
	c := &watch{root: r}
	cmd := &cobra.Command{
		Use:   "watch [database]",
		Short: "Print changes to a database",
		Long: `Follow the change feed of a database, and print each change as it
occurs. Only changes made after the command starts are printed. The command
runs until interrupted, or until --count changes have been printed.`,
		Args: cobra.ExactArgs(1),
		RunE: c.RunE,
	}
	cmd.Flags().IntVarP(&c.count, "count", "n", 0, "Exit after this many changes")
	return cmd
}

type change struct {
	ID      string   `json:"id"`
	Seq     string   `json:"seq"`
	Changes []string `json:"changes"`
	Deleted bool     `json:"deleted,omitempty"`
}

// watchListener hands events and feed errors to the printing goroutine.
type watchListener struct {
	ctx    context.Context
	events chan *sofa.ChangeEvent
	errs   chan error
}

var _ sofa.ChangeErrorListener = &watchListener{}

func (l *watchListener) OnChange(e *sofa.ChangeEvent) {
	select {
	case l.events <- e:
	case <-l.ctx.Done():
	}
}

func (l *watchListener) OnFeedError(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

func (c *watch) RunE(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := c.db(ctx, args[0])
	if err != nil {
		return err
	}
	l := &watchListener{
		ctx:    ctx,
		events: make(chan *sofa.ChangeEvent),
		errs:   make(chan error, 1),
	}
	sub, err := db.Subscribe(ctx, l)
	if err != nil {
		return err
	}
	c.log.Debugf("[watch] Watching %s", db.Name())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		sub.Cancel()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		var n int
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-l.errs:
				return err
			case e := <-l.events:
				if err := c.output(cmd, change{
					ID:      e.ID,
					Seq:     e.Seq,
					Changes: e.Changes,
					Deleted: e.Deleted,
				}); err != nil {
					return err
				}
				n++
				if c.count > 0 && n >= c.count {
					return nil
				}
			}
		}
	})
	return g.Wait()
}
