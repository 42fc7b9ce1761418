package scrape

import "bytes"

// captchaMarkers are the substrings that flag a challenge page. Matching is
// case-insensitive and limited to the first scanBytes of content.
var captchaMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("are you a robot"),
}

// SuspectCaptcha reports whether the leading scanBytes of body contain a
// CAPTCHA-indicative marker. scanBytes <= 0 scans the whole body.
func SuspectCaptcha(body []byte, scanBytes int) bool {
	if len(body) == 0 {
		return false
	}
	if scanBytes > 0 && scanBytes < len(body) {
		body = body[:scanBytes]
	}
	lower := bytes.ToLower(body)
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
