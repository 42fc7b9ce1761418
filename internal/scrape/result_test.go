package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorKindTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("visit: %w", context.DeadlineExceeded), want: ErrorKindTimeout},
		{name: "canceled", err: context.Canceled, want: ErrorKindCanceled},
		{name: "net timeout", err: &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, want: ErrorKindTimeout},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "x.invalid"}, want: ErrorKindDNS},
		{name: "proxyconnect", err: errors.New(`proxyconnect tcp: dial tcp 10.0.0.1:3128: connection refused`), want: ErrorKindProxy},
		{name: "op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, want: ErrorKindConnect},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("eof")}, want: ErrorKindConnect},
		{name: "unknown", err: errors.New("something odd"), want: ErrorKindFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}
}

func TestDefaultRetryableKinds(t *testing.T) {
	kinds := DefaultRetryableKinds()
	for _, kind := range []string{ErrorKindTimeout, ErrorKindConnect, ErrorKindProxy, ErrorKindPayload} {
		if _, ok := kinds[kind]; !ok {
			t.Fatalf("expected %q to be retryable", kind)
		}
	}
	for _, kind := range []string{ErrorKindRobotsBlocked, ErrorKindCanceled, ErrorKindFetch, ErrorKindDNS} {
		if _, ok := kinds[kind]; ok {
			t.Fatalf("did not expect %q to be retryable", kind)
		}
	}
}

func TestHostOf(t *testing.T) {
	if got := HostOf("https://Example.COM:8443/path"); got != "example.com" {
		t.Fatalf("unexpected host %q", got)
	}
	if got := HostOf("::not a url"); got != "" {
		t.Fatalf("expected empty host, got %q", got)
	}
}

func TestRandomJitterBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		j := randomJitter(100 * time.Millisecond)
		if j < 0 || j >= 100*time.Millisecond {
			t.Fatalf("jitter out of range: %v", j)
		}
	}
	if j := randomJitter(0); j != 0 {
		t.Fatalf("expected zero jitter, got %v", j)
	}
}
