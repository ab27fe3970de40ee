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

// Package config loads sofa command settings from a config file, the
// environment, and command line flags.
package config

import (
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
	"github.com/go-kivik/sofa/cmd/sofa/log"
)

const envPrefix = "SOFA"

// Config keys.
const (
	KeyDSN       = "dsn"
	KeyUser      = "user"
	KeyPassword  = "password"
	KeyRetries   = "retries"
	KeyHeartbeat = "heartbeat"
	KeyTimeout   = "timeout"
	KeyFormat    = "format"
)

// DefaultFiles are the config files tried, in order, when none is given.
var DefaultFiles = []string{"sofa.yaml", "~/.sofa.yaml"}

// Config represents a loaded configuration.
type Config struct {
	*viper.Viper
	resolveHome func(string) string
}

// New returns a config with defaults, which reads SOFA_* environment
// variables.
func New() *Config {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyRetries, sofa.DefaultRetries)
	v.SetDefault(KeyHeartbeat, sofa.DefaultHeartbeat)
	v.SetDefault(KeyFormat, "json")
	return &Config{Viper: v, resolveHome: resolveHome}
}

func resolveHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

// BindFlags makes the flags in fs override config file and environment
// values. Flag names match config keys.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	return c.BindPFlags(fs)
}

// Read loads the named config file. If file is empty, the first of
// DefaultFiles which exists is read, if any.
func (c *Config) Read(file string, lg log.Logger) error {
	if file == "" {
		for _, candidate := range DefaultFiles {
			path := c.resolveHome(candidate)
			if _, err := os.Stat(path); err == nil {
				file = path
				break
			}
		}
	}
	if file == "" {
		lg.Debug("no config file found")
		return nil
	}
	c.SetConfigFile(c.resolveHome(file))
	if err := c.ReadInConfig(); err != nil {
		lg.Debugf("failed to read config: %s", err)
		return errors.WithCode(err, errors.ErrUsage)
	}
	lg.Debugf("successfully read config file %q", c.ConfigFileUsed())
	return nil
}

// DSN returns the server URL, with credentials from the user and password
// keys, if set.
func (c *Config) DSN() (string, error) {
	dsn := c.GetString(KeyDSN)
	if dsn == "" {
		return "", errors.Code(errors.ErrUsage, "server DSN required; use --dsn or set SOFA_DSN")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Code(errors.ErrUsage, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Codef(errors.ErrUsage, "invalid DSN: %s", dsn)
	}
	if user := c.GetString(KeyUser); user != "" {
		u.User = url.UserPassword(user, c.GetString(KeyPassword))
	}
	return u.String(), nil
}

// Timeout returns the per-request time limit, or 0 for none.
func (c *Config) Timeout() (time.Duration, error) {
	d := c.GetDuration(KeyTimeout)
	if d < 0 {
		return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
	}
	return d, nil
}

// ClientOptions returns the sofa client options described by the config.
func (c *Config) ClientOptions(lg log.Logger) []sofa.Option {
	return []sofa.Option{
		sofa.OptionRetries(c.GetInt(KeyRetries)),
		sofa.OptionHeartbeat(c.GetDuration(KeyHeartbeat)),
		sofa.OptionLogger(log.Std(lg)),
		sofa.OptionUserAgent("sofa-cli/" + sofa.Version),
	}
}

// Client returns a new client for the configured server.
func (c *Config) Client(lg log.Logger) (*sofa.Client, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	client, err := sofa.New(dsn, c.ClientOptions(lg)...)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrUsage)
	}
	return client, nil
}
