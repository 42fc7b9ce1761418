package scrape

// EscalationConfig holds the knobs consumed by ShouldEscalate and the
// orchestrator's escalation budget.
type EscalationConfig struct {
	// MinBytes is the smallest body length accepted without escalation.
	MinBytes int
	// ConsiderLatency enables the slow-response escalation rule.
	ConsiderLatency bool
	// LatencyThresholdS is the time-to-last-byte above which a slow response
	// escalates, when ConsiderLatency is set.
	LatencyThresholdS float64
	// MaxEscalations caps browser fetches per run.
	MaxEscalations int
}

// ShouldEscalate decides whether a light-path result warrants a browser fetch.
// Rules are evaluated in order; the first match wins:
//
//  1. robots-blocked results never escalate.
//  2. CAPTCHA-suspected results never escalate; a browser will hit the same
//     wall at a higher cost.
//  3. Any other failure escalates: the browser may pass where a plain client
//     failed (TLS fingerprinting, JS challenges).
//  4. Status >= 400 escalates.
//  5. A body below MinBytes escalates (likely a stub needing script
//     execution).
//  6. When enabled, a response slower than LatencyThresholdS escalates.
//
// Blocked and CAPTCHA results are excluded before any cost heuristic on
// purpose: escalating them burns budget with no possible benefit.
func ShouldEscalate(r Result, cfg EscalationConfig) bool {
	if r.ErrorKind == ErrorKindRobotsBlocked {
		return false
	}
	if r.CaptchaSuspect {
		return false
	}
	if r.ErrorKind != "" {
		return true
	}
	if r.StatusCode != nil && *r.StatusCode >= 400 {
		return true
	}
	if r.ByteLength < cfg.MinBytes {
		return true
	}
	if cfg.ConsiderLatency && r.TimeToLastByte > cfg.LatencyThresholdS {
		return true
	}
	return false
}
