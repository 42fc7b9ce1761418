// Package scrape defines the tiered fetch pipeline: the shared result type,
// the light and browser fetchers, the escalation policy, and the orchestrator
// that composes them.
package scrape

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
)

// FetcherKind identifies which fetch path produced a Result.
type FetcherKind string

// Fetch path names recorded on every result.
const (
	FetcherLight FetcherKind = "light"
	FetcherHeavy FetcherKind = "heavy"
)

// Error kinds recorded on failed fetches. ErrorKindRobotsBlocked is a policy
// sentinel, not a transport failure: the fetch was never attempted.
const (
	ErrorKindRobotsBlocked = "robots_blocked"
	ErrorKindTimeout       = "timeout"
	ErrorKindConnect       = "connect_error"
	ErrorKindDNS           = "dns_error"
	ErrorKindProxy         = "proxy_error"
	ErrorKindPayload       = "payload_error"
	ErrorKindCanceled      = "canceled"
	ErrorKindFetch         = "fetch_error"
)

// Result is the normalized per-URL outcome shared by both fetch paths.
// A fetcher fills it in before returning; afterwards it is treated as
// immutable except for the Domain and RetryCount annotations added by the
// orchestrator.
type Result struct {
	URL             string
	Fetcher         FetcherKind
	ByteLength      int
	CaptchaSuspect  bool
	TimeToLastByte  float64
	TimeToFirstByte *float64
	ErrorKind       string
	StatusCode      *int
	Domain          string
	ProxyHint       string
	RetryCount      int
}

// OK reports whether the fetch reached the network and completed.
func (r Result) OK() bool {
	return r.ErrorKind == ""
}

// RobotsBlocked builds the sentinel result for a URL denied by robots policy.
// The fetch is never attempted, so no bytes, no status, no timings.
func RobotsBlocked(rawURL string) Result {
	return Result{
		URL:       rawURL,
		Fetcher:   FetcherLight,
		ErrorKind: ErrorKindRobotsBlocked,
	}
}

// DefaultRetryableKinds returns the error categories worth a second attempt on
// the light path. Everything else either cannot succeed on retry or is better
// answered by escalation.
func DefaultRetryableKinds() map[string]struct{} {
	return map[string]struct{}{
		ErrorKindTimeout: {},
		ErrorKindConnect: {},
		ErrorKindProxy:   {},
		ErrorKindPayload: {},
	}
}

// ClassifyError maps a transport error onto one of the error kind constants.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNS
	}

	// Proxy CONNECT failures surface as url.Error text before the net layers.
	if strings.Contains(err.Error(), "proxyconnect") {
		return ErrorKindProxy
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorKindConnect
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return ErrorKindPayload
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorKindConnect
	}

	return ErrorKindFetch
}

// HostOf extracts the lowercased hostname for the Domain annotation.
// Returns "" when the URL cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Proxy hint values recorded on results.
const (
	ProxyHintDirect = "direct"
	ProxyHintProxy  = "proxy"
)
