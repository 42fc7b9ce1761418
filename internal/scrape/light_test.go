package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLightFetcher(t *testing.T) *LightFetcher {
	t.Helper()
	f, err := NewLightFetcher(LightConfig{
		UserAgent:        "tierfetch-bot/1.0",
		Timeout:          5 * time.Second,
		CaptchaScanBytes: 4096,
		Concurrency:      2,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestLightFetchSuccess(t *testing.T) {
	body := "<html><body>" + strings.Repeat("content ", 1000) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tierfetch-bot/1.0", r.UserAgent())
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	f := newTestLightFetcher(t)
	res := f.Fetch(context.Background(), srv.URL+"/page")

	require.Empty(t, res.ErrorKind)
	require.Equal(t, FetcherLight, res.Fetcher)
	require.NotNil(t, res.StatusCode)
	require.Equal(t, http.StatusOK, *res.StatusCode)
	require.Equal(t, len(body), res.ByteLength)
	require.False(t, res.CaptchaSuspect)
	require.Equal(t, ProxyHintDirect, res.ProxyHint)
	require.NotNil(t, res.TimeToFirstByte)
	require.LessOrEqual(t, *res.TimeToFirstByte, res.TimeToLastByte)
}

func TestLightFetchReports404WithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nothing here"))
	}))
	t.Cleanup(srv.Close)

	f := newTestLightFetcher(t)
	res := f.Fetch(context.Background(), srv.URL+"/missing")

	require.Empty(t, res.ErrorKind, "an HTTP error status is a completed fetch, not a transport failure")
	require.NotNil(t, res.StatusCode)
	require.Equal(t, http.StatusNotFound, *res.StatusCode)
}

func TestLightFetchFlagsCaptchaPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>Please complete the CAPTCHA to continue</html>"))
	}))
	t.Cleanup(srv.Close)

	f := newTestLightFetcher(t)
	res := f.Fetch(context.Background(), srv.URL+"/guarded")

	require.True(t, res.CaptchaSuspect)
	require.Empty(t, res.ErrorKind)
}

func TestLightFetchConnectionFailure(t *testing.T) {
	f := newTestLightFetcher(t)
	res := f.Fetch(context.Background(), "http://127.0.0.1:1/")

	require.NotEmpty(t, res.ErrorKind)
	require.NotEqual(t, ErrorKindRobotsBlocked, res.ErrorKind)
	require.Zero(t, res.ByteLength)
	require.Nil(t, res.StatusCode)
}

func TestLightFetchFollowsRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landed"))
	}))
	t.Cleanup(final.Close)
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	t.Cleanup(hop.Close)

	f := newTestLightFetcher(t)
	res := f.Fetch(context.Background(), hop.URL+"/start")

	require.Empty(t, res.ErrorKind)
	require.Equal(t, http.StatusOK, *res.StatusCode)
	require.Equal(t, len("landed"), res.ByteLength)
}

func TestLightFetchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestLightFetcher(t)
	res := f.Fetch(ctx, "http://example.com/")
	require.Equal(t, ErrorKindCanceled, res.ErrorKind)
	require.Nil(t, res.StatusCode)
}

func TestLightFetchCancelAfterResponseKeepsRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("done"))
		cancel() // the caller's context dies while the response is in flight
	}))
	t.Cleanup(srv.Close)

	f := newTestLightFetcher(t)
	res := f.Fetch(ctx, srv.URL+"/page")

	require.NotNil(t, res.StatusCode)
	require.Equal(t, http.StatusOK, *res.StatusCode)
	require.Empty(t, res.ErrorKind, "a completed response must not be rewritten as canceled")
}

func TestNewLightFetcherRejectsBadProxyURL(t *testing.T) {
	_, err := NewLightFetcher(LightConfig{
		UserAgent: "tierfetch-bot/1.0",
		Timeout:   time.Second,
		ProxyURL:  "://not-a-proxy",
	}, zap.NewNop())
	require.Error(t, err)
}

func TestLightFetchConcurrentAgainstSharedBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Millisecond)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	t.Cleanup(srv.Close)

	f := newTestLightFetcher(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Fetch(context.Background(), srv.URL+"/page")
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.Empty(t, res.ErrorKind)
		require.Equal(t, 4096, res.ByteLength)
	}
}
