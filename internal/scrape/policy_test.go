package scrape

import "testing"

func cleanResult(overrides func(*Result)) Result {
	status := 200
	ttfb := 0.1
	r := Result{
		URL:             "https://example.com",
		Fetcher:         FetcherLight,
		ByteLength:      10000,
		TimeToLastByte:  1.0,
		TimeToFirstByte: &ttfb,
		StatusCode:      &status,
	}
	if overrides != nil {
		overrides(&r)
	}
	return r
}

func TestShouldEscalate(t *testing.T) {
	base := EscalationConfig{MinBytes: 2048, LatencyThresholdS: 5.0, MaxEscalations: 100}

	tests := []struct {
		name string
		r    Result
		cfg  EscalationConfig
		want bool
	}{
		{
			name: "clean success stays on light path",
			r:    cleanResult(nil),
			cfg:  base,
			want: false,
		},
		{
			name: "robots blocked never escalates",
			r:    RobotsBlocked("https://example.com"),
			cfg:  base,
			want: false,
		},
		{
			name: "captcha never escalates even with errors present",
			r: cleanResult(func(r *Result) {
				r.CaptchaSuspect = true
				r.ErrorKind = ErrorKindTimeout
				r.StatusCode = nil
			}),
			cfg:  base,
			want: false,
		},
		{
			name: "transport error escalates",
			r: cleanResult(func(r *Result) {
				r.ErrorKind = ErrorKindTimeout
				r.StatusCode = nil
				r.ByteLength = 0
			}),
			cfg:  base,
			want: true,
		},
		{
			name: "http 404 escalates",
			r: cleanResult(func(r *Result) {
				status := 404
				r.StatusCode = &status
			}),
			cfg:  base,
			want: true,
		},
		{
			name: "tiny body escalates",
			r: cleanResult(func(r *Result) {
				r.ByteLength = 1000
			}),
			cfg:  EscalationConfig{MinBytes: 5000},
			want: true,
		},
		{
			name: "body exactly at minimum does not escalate",
			r: cleanResult(func(r *Result) {
				r.ByteLength = 2048
			}),
			cfg:  base,
			want: false,
		},
		{
			name: "slow response ignored when latency rule disabled",
			r: cleanResult(func(r *Result) {
				r.TimeToLastByte = 120.0
			}),
			cfg:  base,
			want: false,
		},
		{
			name: "slow response escalates when latency rule enabled",
			r: cleanResult(func(r *Result) {
				r.ByteLength = 50000
				r.TimeToLastByte = 2.0
			}),
			cfg:  EscalationConfig{MinBytes: 0, ConsiderLatency: true, LatencyThresholdS: 1.0},
			want: true,
		},
		{
			name: "latency exactly at threshold does not escalate",
			r: cleanResult(func(r *Result) {
				r.TimeToLastByte = 1.0
			}),
			cfg:  EscalationConfig{MinBytes: 0, ConsiderLatency: true, LatencyThresholdS: 1.0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldEscalate(tt.r, tt.cfg); got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}

func TestRobotsBlockedSentinelShape(t *testing.T) {
	r := RobotsBlocked("https://example.com/page")
	if r.ErrorKind != ErrorKindRobotsBlocked {
		t.Fatalf("unexpected error kind %q", r.ErrorKind)
	}
	if r.ByteLength != 0 {
		t.Fatalf("expected zero byte length, got %d", r.ByteLength)
	}
	if r.StatusCode != nil {
		t.Fatalf("expected nil status code, got %d", *r.StatusCode)
	}
	if r.TimeToFirstByte != nil {
		t.Fatal("expected nil time to first byte")
	}
}
