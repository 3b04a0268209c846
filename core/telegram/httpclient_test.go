package telegram

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

type scriptedTransport struct {
	errs   []error
	calls  int
	bodies []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(data))
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func dialErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func newPost(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://api.invalid/sendMessage", strings.NewReader(`{"chat_id":1}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestDialRetryTransportRepeatsDialFailures(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialErr(), dialErr()}}
	tr := &dialRetryTransport{base: base, tries: 4, initial: time.Millisecond}

	resp, err := tr.RoundTrip(newPost(t))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	_ = resp.Body.Close()
	if base.calls != 3 {
		t.Fatalf("calls = %d, want 3", base.calls)
	}
	for i, body := range base.bodies {
		if body != `{"chat_id":1}` {
			t.Fatalf("attempt %d body = %q", i+1, body)
		}
	}
}

func TestDialRetryTransportDoesNotRepeatOtherErrors(t *testing.T) {
	boom := errors.New("connection reset by peer")
	base := &scriptedTransport{errs: []error{boom}}
	tr := &dialRetryTransport{base: base, tries: 4, initial: time.Millisecond}

	if _, err := tr.RoundTrip(newPost(t)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if base.calls != 1 {
		t.Fatalf("calls = %d, want 1", base.calls)
	}
}

func TestDialRetryTransportGivesUp(t *testing.T) {
	base := &scriptedTransport{errs: []error{dialErr(), dialErr(), dialErr()}}
	tr := &dialRetryTransport{base: base, tries: 2, initial: time.Millisecond}

	if _, err := tr.RoundTrip(newPost(t)); err == nil {
		t.Fatal("expected dial error after exhausting tries")
	}
	if base.calls != 2 {
		t.Fatalf("calls = %d, want 2", base.calls)
	}
}

func TestBuildHTTPClientWaitsForLongPoll(t *testing.T) {
	c := BuildHTTPClient(30 * time.Second)
	if c.Timeout != 35*time.Second {
		t.Fatalf("timeout = %v", c.Timeout)
	}
	if _, ok := c.Transport.(*dialRetryTransport); !ok {
		t.Fatalf("transport = %T", c.Transport)
	}
}
