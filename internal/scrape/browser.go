package scrape

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BrowserProxy carries upstream proxy settings for the browser launch.
// Credentials, when present, are answered at the CDP auth-challenge layer.
type BrowserProxy struct {
	Server   string
	Username string
	Password string
}

// BrowserConfig controls the JS-capable fetch path.
type BrowserConfig struct {
	UserAgent        string
	Locale           string
	Headless         bool
	BlockHeavy       bool
	NavTimeout       time.Duration
	CaptchaScanBytes int
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel int
	// DomainQPS paces navigations per host; 0 disables pacing.
	DomainQPS float64
	Proxy     *BrowserProxy
}

// BrowserFetcher drives one shared headless Chrome instance. The engine and
// its browser context are acquired once in NewBrowserFetcher and live until
// Close; each Fetch opens and closes its own tab.
type BrowserFetcher struct {
	cfg            BrowserConfig
	logger         *zap.Logger
	allocCancel    context.CancelFunc
	browserCtx     context.Context
	browserCancel  context.CancelFunc
	sem            chan struct{}
	domainLimiters sync.Map
	proxyHint      string
}

// NewBrowserFetcher launches the browser engine and warms up the shared
// context. Callers own the returned fetcher and must Close it after all
// fetches have drained.
func NewBrowserFetcher(cfg BrowserConfig, logger *zap.Logger) (*BrowserFetcher, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 20 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Locale))
	}
	proxyHint := ProxyHintDirect
	if cfg.Proxy != nil && cfg.Proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server))
		proxyHint = ProxyHintProxy
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	var sem chan struct{}
	if cfg.MaxParallel > 0 {
		sem = make(chan struct{}, cfg.MaxParallel)
	}

	return &BrowserFetcher{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           sem,
		proxyHint:     proxyHint,
	}, nil
}

// Close tears down the browser context and then the engine process. Safe to
// call once all fetches have returned; teardown errors are not reported since
// the fetch outcomes were already delivered.
func (f *BrowserFetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// Fetch navigates rawURL in a fresh tab, waits for the DOM to parse, and
// serializes the rendered document. Like the light path, it never returns an
// error: every failure becomes a Result with ErrorKind set.
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) Result {
	res := Result{
		URL:       rawURL,
		Fetcher:   FetcherHeavy,
		ProxyHint: f.proxyHint,
	}

	release, err := f.acquireSlot(ctx)
	if err != nil {
		res.ErrorKind = ClassifyError(err)
		return res
	}
	defer release()

	if err := f.waitDomainBudget(ctx, rawURL); err != nil {
		res.ErrorKind = ClassifyError(err)
		return res
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	f.installInterception(tabCtx)

	start := time.Now()
	var html string
	actions := f.navigationActions(rawURL, start, &res, &html)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		res.TimeToLastByte = time.Since(start).Seconds()
		res.ErrorKind = classifyBrowserError(err)
		res.ByteLength = 0
		return res
	}
	res.TimeToLastByte = time.Since(start).Seconds()

	body := []byte(html)
	res.ByteLength = len(body)
	res.CaptchaSuspect = SuspectCaptcha(body, f.cfg.CaptchaScanBytes)
	status := meta.status(200)
	res.StatusCode = &status
	return res
}

func (f *BrowserFetcher) navigationActions(rawURL string, start time.Time, res *Result, html *string) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}
	if f.interceptionNeeded() {
		actions = append(actions, f.fetchEnableAction())
	}
	if f.cfg.Locale != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": f.cfg.Locale,
		}))
	}
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.ActionFunc(func(context.Context) error {
			ttfb := time.Since(start).Seconds()
			res.TimeToFirstByte = &ttfb
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
	return actions
}

func (f *BrowserFetcher) interceptionNeeded() bool {
	return f.cfg.BlockHeavy || f.proxyAuthNeeded()
}

func (f *BrowserFetcher) proxyAuthNeeded() bool {
	return f.cfg.Proxy != nil && f.cfg.Proxy.Username != "" && f.cfg.Proxy.Password != ""
}

func (f *BrowserFetcher) fetchEnableAction() chromedp.Action {
	return fetch.Enable().WithHandleAuthRequests(f.proxyAuthNeeded())
}

// installInterception answers paused requests and proxy auth challenges on the
// tab. Heavy sub-resources are failed at the network layer so the page still
// renders without paying for images, media, or fonts.
func (f *BrowserFetcher) installInterception(tabCtx context.Context) {
	if !f.interceptionNeeded() {
		return
	}
	// The tab's target only exists once the first Run has started, so the
	// executor has to be resolved inside the event handlers.
	executor := func() context.Context {
		c := chromedp.FromContext(tabCtx)
		return cdp.WithExecutor(context.Background(), c.Target)
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := executor()
				if f.cfg.BlockHeavy && blockedResourceType(e.ResourceType) {
					err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
					if err != nil {
						f.logger.Debug("fail request", zap.Error(err))
					}
					return
				}
				if err := fetch.ContinueRequest(e.RequestID).Do(execCtx); err != nil {
					f.logger.Debug("continue request", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := executor()
				auth := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: f.cfg.Proxy.Username,
					Password: f.cfg.Proxy.Password,
				}
				if err := fetch.ContinueWithAuth(e.RequestID, auth).Do(execCtx); err != nil {
					f.logger.Debug("continue with auth", zap.Error(err))
				}
			}()
		}
	})
}

func blockedResourceType(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeImage, network.ResourceTypeMedia, network.ResourceTypeFont:
		return true
	default:
		return false
	}
}

func (f *BrowserFetcher) acquireSlot(ctx context.Context) (func(), error) {
	if f.sem == nil {
		return func() {}, nil
	}
	select {
	case f.sem <- struct{}{}:
		return func() { <-f.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func (f *BrowserFetcher) waitDomainBudget(ctx context.Context, rawURL string) error {
	if f.cfg.DomainQPS <= 0 {
		return nil
	}
	host := HostOf(rawURL)
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

// classifyBrowserError folds chromedp failures into the shared taxonomy.
// Navigation deadline overruns arrive as context errors from the task
// context, not as net.Error timeouts.
func classifyBrowserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_TIMED_OUT"):
		return ErrorKindTimeout
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"):
		return ErrorKindDNS
	case strings.Contains(msg, "ERR_PROXY_CONNECTION_FAILED"), strings.Contains(msg, "ERR_TUNNEL_CONNECTION_FAILED"):
		return ErrorKindProxy
	case strings.Contains(msg, "ERR_CONNECTION"):
		return ErrorKindConnect
	}
	return ClassifyError(err)
}

// responseMeta captures the main document's response status from CDP events.
type responseMeta struct {
	once       sync.Once
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.statusCode = int(resp.Response.Status)
	})
}

func (m *responseMeta) status(fallback int) int {
	if m.statusCode == 0 {
		return fallback
	}
	return m.statusCode
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
