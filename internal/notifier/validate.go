package notifier

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateWebhookURL checks that a webhook destination is safe to call
// before it is accepted into channel configuration. HTTPS is required
// in spirit: plain http is accepted but reported as insecure so the
// caller can warn. Loopback and private-range hosts are rejected.
//
// The host check is lexical; no DNS resolution happens, so a public
// hostname resolving to a private address is not caught. This is
// defense-in-depth, not a complete SSRF guarantee.
func ValidateWebhookURL(raw string) (insecure bool, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		insecure = true
	default:
		return false, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return false, fmt.Errorf("webhook URL has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return false, fmt.Errorf("webhook URL must not point to loopback address %q", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false, fmt.Errorf("webhook URL must not point to private/loopback address %q", host)
		}
	}
	return insecure, nil
}
