package telegram

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/m3rciful/leakbot/core/telegram/netutil"
)

const (
	dialTimeout         = 5 * time.Second
	tlsHandshakeTimeout = 5 * time.Second
	idleConnTimeout     = 90 * time.Second
	keepAlive           = 30 * time.Second

	dialRetries      = 3
	dialRetryInitial = 500 * time.Millisecond

	// longPollGrace is added on top of the server-side long-poll timeout.
	longPollGrace = 5 * time.Second
)

// BuildHTTPClient returns the client used for every Bot API call.
// longPoll is the getUpdates timeout; the client waits for it plus a grace margin.
func BuildHTTPClient(longPoll time.Duration) *http.Client {
	wait := max(longPoll, 0) + longPollGrace
	return &http.Client{
		Timeout: wait,
		Transport: &dialRetryTransport{
			base: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       idleConnTimeout,
				TLSHandshakeTimeout:   tlsHandshakeTimeout,
				ResponseHeaderTimeout: wait,
				ExpectContinueTimeout: time.Second,
			},
			tries:   dialRetries + 1,
			initial: dialRetryInitial,
		},
	}
}

// dialRetryTransport repeats a request only when the connection was never
// established, so a sendMessage that reached Telegram is not sent twice.
type dialRetryTransport struct {
	base    http.RoundTripper
	tries   uint
	initial time.Duration
}

func (t *dialRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initial

	attempt := 0
	return backoff.Retry(req.Context(), func() (*http.Response, error) {
		attempt++
		r, err := rewind(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := t.base.RoundTrip(r)
		if err != nil && !netutil.IsDialError(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.tries))
}

var errBodyNotReplayable = errors.New("telegram: request body cannot be replayed")

// rewind returns req for the first attempt and a clone with a fresh body after that.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	switch {
	case req.GetBody != nil:
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	case req.Body != nil && req.Body != http.NoBody:
		return nil, errBodyNotReplayable
	}
	return clone, nil
}
