package validate

import (
	"net"
	"net/url"
	"strings"
)

// blockedHostnames are never acceptable webhook targets regardless of
// DNS resolution.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"metadata.google.internal": true,
}

var blockedSuffixes = []string{".local", ".internal", ".localdomain"}

// privateNetworks covers loopback, RFC 1918, link-local, carrier NAT
// and their IPv6 equivalents.
var privateNetworks = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// ValidateWebhookURL screens a callback URL before it is stored with a
// job. HTTP and HTTPS only, no credentials in the URL, and the host
// must not name loopback, private, or link-local address space.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	if len(rawURL) > 2048 {
		return newError("webhook_url", "webhook url too long")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return newError("webhook_url", "invalid webhook url")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return newError("webhook_url", "webhook url must use http or https")
	}
	if u.User != nil {
		return newSecurityError("webhook url must not contain credentials")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return newError("webhook_url", "webhook url missing host")
	}

	if blockedHostnames[host] {
		return newSecurityError("webhook url targets a blocked host")
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return newSecurityError("webhook url targets a blocked host")
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return newSecurityError("webhook url targets a private address")
		}
	}

	return nil
}

// knownWebhookEvents are the event types a job may subscribe to.
var knownWebhookEvents = map[string]bool{
	"start":    true,
	"progress": true,
	"complete": true,
	"error":    true,
}

// ValidateWebhookEvents checks a subscription list. An empty list is
// valid; delivery falls back to terminal events only.
func ValidateWebhookEvents(events []string) error {
	for _, e := range events {
		if !knownWebhookEvents[e] {
			return newError("webhook_events", "unknown event type %q", e)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
