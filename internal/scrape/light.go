package scrape

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// defaultLightHeaders mimic a regular browser request. The User-Agent comes
// from configuration, not from this set.
var defaultLightHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
}

// LightConfig controls the HTTP fetch path.
type LightConfig struct {
	UserAgent        string
	Timeout          time.Duration
	CaptchaScanBytes int
	// ProxyURL is the credentialed proxy form; empty means a direct connection.
	ProxyURL string
	// Concurrency sizes the shared connection pool.
	Concurrency int
}

// LightFetcher performs single-attempt HTTP fetches through a Colly collector.
// Retries belong to the orchestrator; Fetch never returns an error — failures
// come back as a Result with ErrorKind set.
type LightFetcher struct {
	cfg       LightConfig
	base      *colly.Collector
	proxyHint string
	logger    *zap.Logger
}

// NewLightFetcher builds the base collector that per-fetch clones derive from.
func NewLightFetcher(cfg LightConfig, logger *zap.Logger) (*LightFetcher, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("light fetch timeout must be > 0")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	// Clones share the base collector's HTTP backend, so the timeout and
	// proxy are set here once; mutating them per fetch would race with
	// sibling fetches' in-flight requests.
	hint := ProxyHintDirect
	if cfg.ProxyURL != "" {
		if err := base.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
		hint = ProxyHintProxy
	}

	return &LightFetcher{
		cfg:       cfg,
		base:      base,
		proxyHint: hint,
		logger:    logger,
	}, nil
}

// Fetch issues exactly one GET for rawURL, following redirects, and converts
// every outcome into a Result. TimeToFirstByte is captured when response
// headers arrive; TimeToLastByte once the body has been read.
func (f *LightFetcher) Fetch(ctx context.Context, rawURL string) Result {
	res := Result{
		URL:       rawURL,
		Fetcher:   FetcherLight,
		ProxyHint: f.proxyHint,
	}
	if err := ctx.Err(); err != nil {
		res.ErrorKind = ClassifyError(err)
		return res
	}

	c := f.base.Clone()

	start := time.Now()

	c.OnRequest(func(r *colly.Request) {
		for k, v := range defaultLightHeaders {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponseHeaders(func(_ *colly.Response) {
		ttfb := time.Since(start).Seconds()
		res.TimeToFirstByte = &ttfb
	})
	c.OnResponse(func(r *colly.Response) {
		res.TimeToLastByte = time.Since(start).Seconds()
		status := r.StatusCode
		res.StatusCode = &status
		res.ByteLength = len(r.Body)
		res.CaptchaSuspect = SuspectCaptcha(r.Body, f.cfg.CaptchaScanBytes)
	})
	c.OnError(func(_ *colly.Response, err error) {
		res.TimeToLastByte = time.Since(start).Seconds()
		res.ErrorKind = ClassifyError(err)
		res.ByteLength = 0
		res.StatusCode = nil
	})

	if err := c.Visit(rawURL); err != nil {
		res.TimeToLastByte = time.Since(start).Seconds()
		res.ErrorKind = ClassifyError(err)
		return res
	}
	c.Wait()

	// A record carries a status or an error kind, never both. Cancellation
	// after a completed response leaves the response untouched.
	if res.StatusCode == nil && res.ErrorKind == "" {
		if err := ctx.Err(); err != nil {
			res.ErrorKind = ClassifyError(err)
		} else {
			res.ErrorKind = ErrorKindFetch
		}
	}
	return res
}
