// Package sink persists run output as flat files: one CSV of results and one
// JSON manifest per run.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tierfetch/tierfetch/internal/scrape"
)

var csvHeader = []string{
	"url", "fetcher", "byte_length", "captcha_suspected",
	"time_to_last_byte_s", "time_to_first_byte_s",
	"error_kind", "status_code", "domain", "proxy_hint", "retry_count",
}

// Manifest summarizes one run next to its CSV.
type Manifest struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	URLCount      int       `json:"url_count"`
	LightFinal    int       `json:"light_final"`
	HeavyFinal    int       `json:"heavy_final"`
	RobotsBlocked int       `json:"robots_blocked"`
	Failed        int       `json:"failed"`
}

// CSVSink writes results under a root directory.
type CSVSink struct {
	root   string
	logger *zap.Logger
}

// NewCSVSink creates the output directory if needed.
func NewCSVSink(root string, logger *zap.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", root, err)
	}
	return &CSVSink{root: root, logger: logger}, nil
}

// WriteResults persists one CSV row per result and returns the file path.
// Nullable fields serialize as empty cells.
func (s *CSVSink) WriteResults(runID string, results []scrape.Result) (string, error) {
	target := filepath.Join(s.root, fmt.Sprintf("results_%s.csv", runID))
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create results file %s: %w", target, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("close results file", zap.Error(cerr))
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		if err := w.Write(resultRow(r)); err != nil {
			return "", fmt.Errorf("write csv row for %s: %w", r.URL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return target, nil
}

// WriteManifest persists the run summary as pretty-printed JSON.
func (s *CSVSink) WriteManifest(runID string, m Manifest) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	target := filepath.Join(s.root, fmt.Sprintf("run_%s.json", runID))
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write manifest %s: %w", target, err)
	}
	return nil
}

// Summarize derives manifest counters from the final records.
func Summarize(runID string, startedAt, finishedAt time.Time, results []scrape.Result) Manifest {
	m := Manifest{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		URLCount:   len(results),
	}
	for _, r := range results {
		switch {
		case r.ErrorKind == scrape.ErrorKindRobotsBlocked:
			m.RobotsBlocked++
		case r.ErrorKind != "":
			m.Failed++
		case r.Fetcher == scrape.FetcherHeavy:
			m.HeavyFinal++
		default:
			m.LightFinal++
		}
	}
	return m
}

func resultRow(r scrape.Result) []string {
	ttfb := ""
	if r.TimeToFirstByte != nil {
		ttfb = strconv.FormatFloat(*r.TimeToFirstByte, 'f', 6, 64)
	}
	status := ""
	if r.StatusCode != nil {
		status = strconv.Itoa(*r.StatusCode)
	}
	return []string{
		r.URL,
		string(r.Fetcher),
		strconv.Itoa(r.ByteLength),
		strconv.FormatBool(r.CaptchaSuspect),
		strconv.FormatFloat(r.TimeToLastByte, 'f', 6, 64),
		ttfb,
		r.ErrorKind,
		status,
		r.Domain,
		r.ProxyHint,
		strconv.Itoa(r.RetryCount),
	}
}
