package scrape

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lightFetches counts attempts on the HTTP path, retries included.
	lightFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_light_fetches_total",
		Help: "Total HTTP-path fetch attempts, including retries.",
	})
	// heavyFetches counts browser navigations.
	heavyFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_heavy_fetches_total",
		Help: "Total browser-path fetches.",
	})
	// retries counts light-path retry attempts.
	retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_retries_total",
		Help: "Total light-path retries after retryable failures.",
	})
	// escalationsSuppressed counts escalations skipped due to the budget cap.
	escalationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_escalations_suppressed_total",
		Help: "Escalations indicated by policy but denied by the budget.",
	})
	// robotsBlocked counts URLs denied before any fetch.
	robotsBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_robots_blocked_total",
		Help: "URLs blocked by robots policy before fetching.",
	})
	// captchaSuspected counts results flagged by the CAPTCHA heuristic.
	captchaSuspected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_captcha_suspected_total",
		Help: "Fetches whose content tripped the CAPTCHA heuristic.",
	})
)
