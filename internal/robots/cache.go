// Package robots implements the origin-level robots.txt compliance cache.
//
// The cache answers one reduced question per origin: does robots.txt fully
// disallow this site for our user agent? Partial path rules do not affect the
// answer. Decisions are cached in memory with a TTL and mirrored to a JSON
// file on every mutation, so repeated runs do not re-fetch robots.txt for
// known origins.
package robots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// robotsFetchTimeout bounds the robots.txt lookup independently of the
// pipeline's fetch timeouts.
const robotsFetchTimeout = 10 * time.Second

const maxRobotsBytes = 1 << 20

// Entry is one persisted robots decision.
type Entry struct {
	Allowed    bool  `json:"allowed"`
	RecordedAt int64 `json:"recorded_at"`
}

// Cache is the process-wide robots decision store. All methods are safe for
// concurrent use; every internal failure degrades to a permissive answer.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	client    *http.Client
	path      string
	ttl       time.Duration
	userAgent string
	logger    *zap.Logger
	now       func() time.Time
}

// NewCache loads any persisted decisions from path and returns a ready cache.
// A missing or corrupt file degrades to an empty cache.
func NewCache(path string, ttl time.Duration, userAgent string, logger *zap.Logger) *Cache {
	c := &Cache{
		entries:   make(map[string]Entry),
		client:    &http.Client{Timeout: robotsFetchTimeout},
		path:      path,
		ttl:       ttl,
		userAgent: userAgent,
		logger:    logger,
		now:       time.Now,
	}
	c.load()
	return c
}

// Allowed reports whether rawURL's origin may be fetched. It never fails:
// unreachable or malformed robots.txt, unparsable URLs, and disk errors all
// resolve to true.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	origin, ok := originOf(rawURL)
	if !ok {
		return true
	}

	if allowed, fresh := c.cached(origin); fresh {
		return allowed
	}

	body, found := c.fetchRobots(ctx, origin+"/robots.txt")
	if !found {
		c.store(origin, true)
		return true
	}

	allowed := parseRobots(body, c.userAgent)
	c.store(origin, allowed)
	return allowed
}

// originOf reduces a URL to scheme://host, defaulting to https when the
// scheme is absent.
func originOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := u.Host
	if host == "" {
		return "", false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host, true
}

func (c *Cache) cached(origin string) (allowed, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[origin]
	if !ok {
		return false, false
	}
	if c.now().Unix()-entry.RecordedAt > int64(c.ttl.Seconds()) {
		return false, false
	}
	return entry.Allowed, true
}

// fetchRobots retrieves robots.txt with its own short timeout. found is false
// for any network error, non-success status, or empty body.
func (c *Cache) fetchRobots(ctx context.Context, robotsURL string) (body string, found bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode >= 400 {
		return "", false
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// store records the decision in memory and writes the full map through to
// disk. Persistence failures cost efficiency, not correctness, so they are
// logged and swallowed.
func (c *Cache) store(origin string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = Entry{Allowed: allowed, RecordedAt: c.now().Unix()}
	if err := c.save(); err != nil {
		c.logger.Warn("robots cache save failed", zap.String("path", c.path), zap.Error(err))
	}
}

func (c *Cache) load() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("robots cache load failed", zap.String("path", c.path), zap.Error(err))
		}
		return
	}
	entries := make(map[string]Entry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn("robots cache unreadable; starting empty", zap.String("path", c.path), zap.Error(err))
		return
	}
	c.entries = entries
}

// save overwrites the whole persisted map; entries are independent per
// origin, so last-writer-wins on the snapshot is acceptable.
func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	payload, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(c.path, payload, 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// parseRobots runs the reduced directive scan: find the active user-agent
// block (an exact substring match wins permanently over later * blocks) and
// deny the whole origin only on a Disallow of "/" or "/*". This is a
// deliberate simplification, kept as the contract; it is not full robots.txt
// semantics.
func parseRobots(content, userAgent string) bool {
	ua := strings.ToLower(userAgent)
	allowed := true

	const (
		blockNone = iota
		blockStar
		blockExact
	)
	active := blockNone
	sawExact := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)

		if value, ok := strings.CutPrefix(lower, "user-agent:"); ok {
			value = strings.TrimSpace(value)
			switch {
			case value != "*" && value != "" && strings.Contains(ua, value):
				active = blockExact
				sawExact = true
			case value == "*" && !sawExact:
				active = blockStar
			default:
				active = blockNone
			}
			continue
		}

		if value, ok := strings.CutPrefix(lower, "disallow:"); ok && active != blockNone {
			rule := strings.TrimSpace(value)
			if rule == "/" || rule == "/*" {
				allowed = false
			}
		}
	}
	return allowed
}
