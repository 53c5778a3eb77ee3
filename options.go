package deribit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/deribit-go/broker"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultURL is the production base URL.
const DefaultURL = "https://www.deribit.com"

// TestnetURL is the base URL of the public test environment.
const TestnetURL = "https://test.deribit.com"

type options struct {
	url          string
	key          string
	secret       string
	now          func() time.Time
	log          *slog.Logger
	limiter      *rate.Limiter
	registerer   prometheus.Registerer
	relay        broker.Publisher
	relayBuffer  int
	writeTimeout time.Duration
	httpClient   *http.Client
}

func defaultOptions() options {
	return options{
		url:          DefaultURL,
		now:          time.Now,
		log:          slog.Default(),
		relayBuffer:  1024,
		writeTimeout: 10 * time.Second,
	}
}

// Option customizes a Client or RestClient.
type Option func(*options)

// WithURL sets the base URL, e.g. TestnetURL. The WebSocket endpoint is
// derived from it.
func WithURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.url = url
		}
	}
}

// WithCredentials sets the access key and secret used to sign requests.
func WithCredentials(key, secret string) Option {
	return func(o *options) {
		o.key = key
		o.secret = secret
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the clock used to timestamp signatures.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRateLimit throttles outgoing requests to rps requests per second with
// the given burst. Callers wait for a token before their request is sent.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 || burst <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics registers the client's Prometheus collectors on reg. A
// registerer can hold the collectors of only one client.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithRelay mirrors every inbound notification to p, in addition to local
// subscribers. Publishing happens off the receive path through a buffer of
// the given size; notifications that do not fit are not relayed.
func WithRelay(p broker.Publisher, buffer int) Option {
	return func(o *options) {
		o.relay = p
		if buffer > 0 {
			o.relayBuffer = buffer
		}
	}
}

// WithWriteTimeout bounds every write on the connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithHTTPClient overrides the http.Client used by RestClient.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}
