package validator

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	eventTypePattern  = regexp.MustCompile(`^[a-z][a-z0-9_-]*/[a-z][a-z0-9_-]*$`)
	headerNamePattern = regexp.MustCompile("^[!#$%&'*+.^_`|~0-9A-Za-z-]+$")
)

// IsHTTPURL checks that raw is an absolute http or https URL with a host.
func IsHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}

// IsEventType checks the "<noun>/<verb>" form, e.g. "claim/opened".
func IsEventType(s string) error {
	if !eventTypePattern.MatchString(s) {
		return fmt.Errorf("event type %q must look like <noun>/<verb>", s)
	}
	return nil
}

// IsHeaderName checks that name is an RFC 7230 token.
func IsHeaderName(name string) error {
	if !headerNamePattern.MatchString(name) {
		return fmt.Errorf("invalid header name %q", name)
	}
	return nil
}

// IsHeaderValue rejects control characters that would split a header.
func IsHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n\x00") {
		return errors.New("header value contains control characters")
	}
	return nil
}
