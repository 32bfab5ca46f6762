// Package privacy scrubs credentials and personal paths from messages before
// they are logged or sent as telemetry.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// any scheme: notification services use their own (telegram://, ntfy://, ...)
	urlPattern  = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)
	homePattern = regexp.MustCompile(`/(home|Users)/[^/\s]+`)
)

// ScrubMessage replaces URLs with their redacted form and user home
// directories with a placeholder.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, func(u string) string {
		scheme, _, _ := strings.Cut(u, "://")
		return scheme + "://[redacted]"
	})
	return homePattern.ReplaceAllString(message, "/$1/[user]")
}

// RedactURL returns scheme://host[:port] of rawURL, dropping credentials,
// path and query where service tokens usually live. Unparseable input is
// fully redacted.
func RedactURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return "[redacted]"
	}
	if u.Host == "" {
		return u.Scheme + "://[redacted]"
	}
	host := u.Hostname()
	if port := u.Port(); port != "" {
		return u.Scheme + "://" + host + ":" + port
	}
	return u.Scheme + "://" + host
}
