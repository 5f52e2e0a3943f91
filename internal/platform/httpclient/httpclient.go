// Package httpclient holds the small helpers every outbound HTTP client
// in this repo shares: a validated base URL, a response body read capped
// at a fixed size, grounded on services/txsubmitter/client.Client's
// BaseURL validation and bounded-read helpers.
package httpclient

import (
	"fmt"
	"io"
	"net/url"
	"strings"
)

const DefaultMaxBodyBytes = 1 << 20 // 1MiB

// ValidateBaseURL trims trailing slashes and rejects anything that is not
// an absolute http(s) URL without embedded user info.
func ValidateBaseURL(raw string, requireHTTPS bool) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if baseURL == "" {
		return "", fmt.Errorf("base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL must be a valid absolute URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https")
	}
	if parsed.User != nil {
		return "", fmt.Errorf("base URL must not include user info")
	}
	if requireHTTPS && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL must use https")
	}
	return baseURL, nil
}

// ReadAllStrict reads up to maxBytes+1 from r and errors if the body was
// larger, so a misbehaving driver can never exhaust caller memory.
func ReadAllStrict(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBytes)
	}
	return body, nil
}
