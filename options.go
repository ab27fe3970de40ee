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

package sofa

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"github.com/go-kivik/sofa/chttp"
)

// Option configures a [Client] or an individual request. Options which do
// not apply to a given target are silently ignored, so that client-level and
// transport-level options may be passed together to [New].
type Option = chttp.Option

// Options is a collection of request parameters, sent as URL query
// parameters.
type Options map[string]interface{}

type allOptions []Option

var _ Option = (allOptions)(nil)

func (o allOptions) Apply(t interface{}) {
	for _, opt := range o {
		if opt != nil {
			opt.Apply(t)
		}
	}
}

// Apply applies o to target. The following target types are supported:
//
//   - map[string]interface{}
//   - *url.Values
func (o Options) Apply(target interface{}) {
	switch t := target.(type) {
	case map[string]interface{}:
		for k, v := range o {
			t[k] = v
		}
	case *url.Values:
		for key, i := range o {
			var values []string
			switch v := i.(type) {
			case string:
				values = []string{v}
			case []string:
				values = v
			case bool:
				values = []string{fmt.Sprintf("%t", v)}
			case int, uint, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
				values = []string{fmt.Sprintf("%d", v)}
			}
			for _, value := range values {
				t.Add(key, value)
			}
		}
	}
}

// Param sets a single key/value pair as a query parameter.
func Param(key string, value interface{}) Option {
	return Options{key: value}
}

// Params allows passing a collection of key/value pairs as query parameter
// options.
func Params(p map[string]interface{}) Option {
	return Options(p)
}

// Rev is a convenience function to set the revision. A less verbose
// alternative to Param("rev", rev).
func Rev(rev string) Option {
	return Param("rev", rev)
}

// clientConfig holds the settings of a [Client] which are not owned by the
// transport layer.
type clientConfig struct {
	HTTPClient      *http.Client  `validate:"-"`
	Retries         int           `validate:"gte=0,lte=10"`
	MaxConnsPerHost int           `validate:"gte=1"`
	Heartbeat       time.Duration `validate:"gte=1s"`
	AsyncWorkers    int           `validate:"gte=1"`
	FeedBackOff     func() backoff.BackOff
	Logger          *log.Logger `validate:"required"`
	Classifier      Classifier  `validate:"required"`
}

func newClientConfig() *clientConfig {
	return &clientConfig{
		Retries:         DefaultRetries,
		MaxConnsPerHost: DefaultMaxConnsPerHost,
		Heartbeat:       DefaultHeartbeat,
		AsyncWorkers:    DefaultAsyncWorkers,
		Logger:          log.New(io.Discard, "", 0),
		Classifier:      mimeClassifier{},
	}
}

var configValidator = validator.New()

func (c *clientConfig) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return &Error{Status: http.StatusBadRequest, Message: "sofa: invalid client option", Err: err}
	}
	return nil
}

// transportOptions translates the client config into the options understood
// by the transport layer.
func (c *clientConfig) transportOptions() []Option {
	return []Option{
		chttp.OptionRetries(c.Retries),
		chttp.OptionMaxConnsPerHost(c.MaxConnsPerHost),
		chttp.OptionLogger(c.Logger),
	}
}

type optionHTTPClient struct {
	*http.Client
}

func (o optionHTTPClient) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.HTTPClient = o.Client
	}
}

func (optionHTTPClient) String() string { return "[*http.Client]" }

// OptionHTTPClient may be passed to [New] to use a custom *http.Client. When
// the client carries its own transport, [OptionMaxConnsPerHost] has no effect.
func OptionHTTPClient(client *http.Client) Option {
	return optionHTTPClient{Client: client}
}

// OptionUserAgent may be passed to [New] to append a product to the
// User-Agent header of every request.
func OptionUserAgent(ua string) Option {
	return chttp.OptionUserAgent(ua)
}

// OptionNoRequestCompression disables gzip compression of request bodies.
func OptionNoRequestCompression() Option {
	return chttp.OptionNoRequestCompression()
}

// BasicAuth provides HTTP Basic Auth for a client.
func BasicAuth(username, password string) Option {
	return chttp.BasicAuth(username, password)
}

// CookieAuth provides CouchDB cookie auth. Cookie auth is the default if
// credentials are included in the connection URL.
func CookieAuth(username, password string) Option {
	return chttp.CookieAuth(username, password)
}

type optionRetries int

func (o optionRetries) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.Retries = int(o)
	}
}

func (o optionRetries) String() string { return fmt.Sprintf("[Retries: %d]", int(o)) }

// OptionRetries sets the number of times a GET request is retried after a
// transport failure, such as a connection reset. Valid values are 0 to 10.
// The default is [DefaultRetries].
func OptionRetries(n int) Option {
	return optionRetries(n)
}

type optionMaxConnsPerHost int

func (o optionMaxConnsPerHost) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.MaxConnsPerHost = int(o)
	}
}

func (o optionMaxConnsPerHost) String() string {
	return fmt.Sprintf("[MaxConnsPerHost: %d]", int(o))
}

// OptionMaxConnsPerHost sets the size of the connection pool shared by every
// database session of a client. The default is [DefaultMaxConnsPerHost].
func OptionMaxConnsPerHost(n int) Option {
	return optionMaxConnsPerHost(n)
}

type optionHeartbeat time.Duration

func (o optionHeartbeat) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.Heartbeat = time.Duration(o)
	}
}

func (o optionHeartbeat) String() string {
	return fmt.Sprintf("[Heartbeat: %s]", time.Duration(o))
}

// OptionHeartbeat sets the interval at which the server is asked to send
// heartbeats on the change feed. It must be at least one second.
func OptionHeartbeat(d time.Duration) Option {
	return optionHeartbeat(d)
}

type optionFeedBackOff func() backoff.BackOff

func (o optionFeedBackOff) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.FeedBackOff = o
	}
}

func (optionFeedBackOff) String() string { return "[FeedBackOff]" }

// OptionFeedBackOff enables reconnection of the change feed after a failure.
// newBackOff is called each time a feed worker starts; the feed stops once the
// returned policy yields [backoff.Stop]. Without this option, a failed feed
// stops immediately.
func OptionFeedBackOff(newBackOff func() backoff.BackOff) Option {
	return optionFeedBackOff(newBackOff)
}

type optionLogger struct {
	*log.Logger
}

func (o optionLogger) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok && o.Logger != nil {
		cfg.Logger = o.Logger
	}
}

func (optionLogger) String() string { return "[Logger]" }

// OptionLogger sets the logger used to report change feed activity and
// retried requests. By default nothing is logged.
func OptionLogger(logger *log.Logger) Option {
	return optionLogger{Logger: logger}
}

type optionClassifier struct {
	Classifier
}

func (o optionClassifier) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok && o.Classifier != nil {
		cfg.Classifier = o.Classifier
	}
}

func (optionClassifier) String() string { return "[Classifier]" }

// OptionClassifier replaces the content-type detection used by
// [DB.PutAttachment] when no content type is given.
func OptionClassifier(c Classifier) Option {
	return optionClassifier{Classifier: c}
}

type optionAsyncWorkers int

func (o optionAsyncWorkers) Apply(target interface{}) {
	if cfg, ok := target.(*clientConfig); ok {
		cfg.AsyncWorkers = int(o)
	}
}

func (o optionAsyncWorkers) String() string {
	return fmt.Sprintf("[AsyncWorkers: %d]", int(o))
}

// OptionAsyncWorkers limits the number of asynchronous operations, such as
// [DB.GetAsync], which may run concurrently. The default is
// [DefaultAsyncWorkers].
func OptionAsyncWorkers(n int) Option {
	return optionAsyncWorkers(n)
}
