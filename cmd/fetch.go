package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tierfetch/tierfetch/internal/api"
	"github.com/tierfetch/tierfetch/internal/config"
	"github.com/tierfetch/tierfetch/internal/logging"
	"github.com/tierfetch/tierfetch/internal/proxy"
	"github.com/tierfetch/tierfetch/internal/robots"
	"github.com/tierfetch/tierfetch/internal/scrape"
	"github.com/tierfetch/tierfetch/internal/sink"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <urls-file>",
	Short: "Fetch every URL in the file and write results to the output dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(parent context.Context, urlsPath string) error {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("scrape_config.yaml"); err == nil {
			path = "scrape_config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	urls, err := readURLs(urlsPath)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs found in %s", urlsPath)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.New(cfg.API.Port, logger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var proxySettings proxy.Settings
	if cfg.UseProxy {
		proxySettings = proxy.LoadFromFile(cfg.ProxyFile, logger)
		if !proxySettings.Enabled() {
			logger.Warn("use_proxy is set but no proxy loaded; fetching directly")
		}
	}

	robotsCache := robots.NewCache(cfg.RobotsCachePath, cfg.RobotsCacheTTL(), cfg.UserAgent, logger)

	lightCfg := scrape.LightConfig{
		UserAgent:        cfg.UserAgent,
		Timeout:          cfg.HTTPTimeout(),
		CaptchaScanBytes: cfg.CaptchaDetectionBytes,
		Concurrency:      cfg.HTTPConcurrency,
	}
	if proxySettings.Enabled() {
		lightCfg.ProxyURL = proxySettings.URL()
	}
	light, err := scrape.NewLightFetcher(lightCfg, logger)
	if err != nil {
		return err
	}

	var heavy scrape.Fetcher
	if cfg.MaxBrowserEscalations > 0 {
		browserCfg := scrape.BrowserConfig{
			UserAgent:        cfg.UserAgent,
			Locale:           cfg.BrowserLocale,
			Headless:         cfg.BrowserHeadless,
			BlockHeavy:       cfg.BrowserBlockHeavy,
			NavTimeout:       cfg.BrowserTimeout(),
			CaptchaScanBytes: cfg.CaptchaDetectionBytes,
			MaxParallel:      cfg.BrowserConcurrency,
			DomainQPS:        cfg.BrowserDomainQPS,
		}
		if proxySettings.Enabled() {
			browserCfg.Proxy = &scrape.BrowserProxy{
				Server:   proxySettings.Server,
				Username: proxySettings.Username,
				Password: proxySettings.Password,
			}
		}
		browser, err := scrape.NewBrowserFetcher(browserCfg, logger)
		if err != nil {
			// The light path still works without a browser; run degraded.
			logger.Warn("browser unavailable; escalations disabled", zap.Error(err))
		} else {
			defer browser.Close()
			heavy = browser
		}
	}

	orch := scrape.NewOrchestrator(scrape.OrchestratorConfig{
		Concurrency:    cfg.HTTPConcurrency,
		MaxRetries:     cfg.HTTPMaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		RetryJitter:    cfg.RetryJitter(),
		Escalation: scrape.EscalationConfig{
			MinBytes:          cfg.EscalationMinBytes,
			ConsiderLatency:   cfg.EscalationConsiderLatency,
			LatencyThresholdS: cfg.EscalationLatencyS,
			MaxEscalations:    cfg.MaxBrowserEscalations,
		},
	}, robotsCache, light, heavy, logger)

	runID := uuid.NewString()
	logger.Info("run starting",
		zap.String("run_id", runID),
		zap.Int("urls", len(urls)),
		zap.Bool("browser_enabled", heavy != nil),
	)

	startedAt := time.Now().UTC()
	results := orch.Run(ctx, urls)
	finishedAt := time.Now().UTC()

	out, err := sink.NewCSVSink(cfg.OutputDir, logger)
	if err != nil {
		return err
	}
	csvPath, err := out.WriteResults(runID, results)
	if err != nil {
		return err
	}
	manifest := sink.Summarize(runID, startedAt, finishedAt, results)
	if err := out.WriteManifest(runID, manifest); err != nil {
		return err
	}

	logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("results", csvPath),
		zap.Int("light_final", manifest.LightFinal),
		zap.Int("heavy_final", manifest.HeavyFinal),
		zap.Int("robots_blocked", manifest.RobotsBlocked),
		zap.Int("failed", manifest.Failed),
		zap.Int64("escalations_used", orch.EscalationsUsed()),
	)
	return nil
}

// readURLs loads one URL per line; blank lines and # comments are skipped.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}
