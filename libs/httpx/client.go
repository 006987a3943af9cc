package httpx

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ClientOptions configures outbound clients used to reach the platform gateway.
type ClientOptions struct {
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
	// Base is the transport to wrap; http.DefaultTransport when nil.
	Base http.RoundTripper
}

// NewClient returns an http.Client that propagates trace and request id headers
// and waits on a token bucket before each call.
func NewClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var rt http.RoundTripper = requestIDTransport{next: base}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rt = throttledTransport{next: rt, limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   opts.Timeout,
	}
}

type throttledTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(r)
}

type requestIDTransport struct {
	next http.RoundTripper
}

func (t requestIDTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	id := RequestIDFromContext(r.Context())
	if id == "" || r.Header.Get(RequestIDHeader) != "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set(RequestIDHeader, id)
	return t.next.RoundTrip(r)
}
