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

// Package cmd implements the sofa command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/config"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
	"github.com/go-kivik/sofa/cmd/sofa/log"
	"github.com/go-kivik/sofa/cmd/sofa/output"
)

type root struct {
	confFile string
	debug    bool
	log      log.Logger
	conf     *config.Config
	cmd      *cobra.Command
	fmt      *output.Formatter

	timeout time.Duration
	cl      *sofa.Client

	// retry attempts
	retryCount         int
	retryDelay         string
	retryDelayParsed   time.Duration
	retryTimeout       string
	retryTimeoutParsed time.Duration
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It is called by main.main, and exits the process.
func Execute(ctx context.Context) {
	lg := log.New()
	root := rootCmd(lg)
	os.Exit(root.execute(ctx))
}

func (r *root) execute(ctx context.Context) int {
	err := r.cmd.ExecuteContext(ctx)
	if r.cl != nil {
		_ = r.cl.Close()
	}
	if err == nil {
		return 0
	}
	return extractExitCode(err)
}

func extractExitCode(err error) int {
	if code := errors.InspectErrorCode(err); code != 0 {
		return code
	}

	// Any unhandled errors are assumed to be from Cobra, so return a "failed
	// to initialize" error
	return errors.ErrUsage
}

func rootCmd(lg log.Logger) *root {
	r := &root{
		log:  lg,
		fmt:  output.New(),
		conf: config.New(),
	}
	r.cmd = &cobra.Command{
		Use:               "sofa",
		Short:             "sofa reads and writes CouchDB documents",
		Long:              `This tool exposes document, view, attachment and change feed access to a CouchDB database.`,
		PersistentPreRunE: r.init,
		SilenceUsage:      true,
	}

	pf := r.cmd.PersistentFlags()
	pf.StringVar(&r.confFile, "config", "", "Path to config file. Defaults to ./sofa.yaml, then ~/.sofa.yaml.")
	pf.BoolVarP(&r.debug, "debug", "v", false, "Enable debug output")
	pf.String(config.KeyDSN, "", "Server URL, such as http://localhost:5984/")
	pf.String(config.KeyUser, "", "Username for basic authentication")
	pf.String(config.KeyPassword, "", "Password for basic authentication")
	pf.StringP(config.KeyFormat, "f", "json", "Output format; one of: json|yaml")
	pf.Int(config.KeyRetries, sofa.DefaultRetries, "Attempts for idempotent requests which fail because of a lost connection")
	pf.Duration(config.KeyHeartbeat, sofa.DefaultHeartbeat, "Change feed heartbeat interval")
	pf.Duration(config.KeyTimeout, 0, "The time limit for each request. Does not apply to watch.")
	pf.IntVar(&r.retryCount, "retry", 0, "In case of transient error, retry up to this many times. A negative value retries forever.")
	pf.StringVar(&r.retryDelay, "retry-delay", "", "Delay between retry attempts. Disables the default exponential backoff algorithm.")
	pf.StringVar(&r.retryTimeout, "retry-timeout", "", "When used with --retry, no more retries will be attempted after this timeout.")
	if err := r.conf.BindFlags(pf); err != nil {
		panic(err)
	}

	r.cmd.AddCommand(getCmd(r))
	r.cmd.AddCommand(putCmd(r))
	r.cmd.AddCommand(deleteCmd(r))
	r.cmd.AddCommand(queryCmd(r))
	r.cmd.AddCommand(attachmentCmd(r))
	r.cmd.AddCommand(watchCmd(r))
	r.cmd.AddCommand(versionCmd(r))

	return r
}

func parseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	if d, err := strconv.ParseFloat(val, 64); err == nil {
		if d < 0 {
			return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
		}
		return time.Duration(d * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.Code(errors.ErrUsage, err)
	}
	if d < 0 {
		return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
	}
	return d, nil
}

func (r *root) init(cmd *cobra.Command, _ []string) error {
	r.log.SetOut(cmd.OutOrStdout())
	r.log.SetErr(cmd.ErrOrStderr())
	r.log.SetDebug(r.debug)

	r.log.Debug("Debug mode enabled")

	var err error
	r.retryDelayParsed, err = parseDuration(r.retryDelay)
	if err != nil {
		return err
	}
	r.retryTimeoutParsed, err = parseDuration(r.retryTimeout)
	if err != nil {
		return err
	}
	if err := r.conf.Read(r.confFile, r.log); err != nil {
		return err
	}
	r.timeout, err = r.conf.Timeout()
	return err
}

// client returns the client for the configured server, creating it on first
// use.
func (r *root) client() (*sofa.Client, error) {
	if r.cl != nil {
		return r.cl, nil
	}
	cl, err := r.conf.Client(r.log)
	if err != nil {
		return nil, err
	}
	r.log.Debugf("DSN: %s", cl.DSN())
	r.cl = cl
	return cl, nil
}

// db opens the named database session.
func (r *root) db(ctx context.Context, name string) (*sofa.DB, error) {
	cl, err := r.client()
	if err != nil {
		return nil, err
	}
	return cl.DB(ctx, name)
}

// withTimeout applies the request time limit, if any, to ctx.
func (r *root) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// output renders v in the configured format.
func (r *root) output(cmd *cobra.Command, v interface{}) error {
	return r.fmt.Output(cmd.OutOrStdout(), r.conf.GetString(config.KeyFormat), v)
}

// transient reports whether err may succeed on retry.
func transient(err error) bool {
	switch errors.InspectErrorCode(err) {
	case errors.ErrUnavailable, errors.ErrInternalServerError:
		return true
	}
	return false
}

func (r *root) retry(fn func() error) error {
	if r.retryCount == 0 {
		return fn()
	}
	var bo backoff.BackOff
	switch {
	case r.retryDelayParsed == 0 && r.retryDelay != "": // Disables retry delay
		bo = &backoff.ZeroBackOff{}
	case r.retryDelayParsed != 0:
		bo = backoff.NewConstantBackOff(r.retryDelayParsed)
	default:
		bo = backoff.NewExponentialBackOff()
	}
	if r.retryCount >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.retryCount))
	}
	if r.retryTimeoutParsed > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), r.retryTimeoutParsed)
		defer cancel()
		bo = backoff.WithContext(bo, ctx)
	}
	var count int
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, next time.Duration) {
		count++
		msg := fmt.Sprintf("Warning: Transient problem: %s. Will retry in %s.", err, fmtDuration(next))
		if remain := r.retryCount - count; remain > 0 {
			msg += fmt.Sprintf(" %d retries left.", remain)
		}
		r.log.Error(msg)
	})
}

// nolint:gomnd
func fmtDuration(dur time.Duration) string {
	s := dur.Seconds()
	if s < 60 {
		return fmt.Sprintf("%0.2fs", s)
	}
	m := int(s / 60)
	s -= float64(m) * 60
	if m < 60 {
		return fmt.Sprintf("%dm%ds", m, int(s))
	}
	h := m / 60
	m -= h * 60
	if h < 24 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	d := h / 24
	h -= d * 24
	return fmt.Sprintf("%dd%dh%dm", d, h, m)
}
