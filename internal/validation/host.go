package validation

import (
	"net/url"
	"strings"
)

// NormalizeHost lower-cases a host and strips a leading "www.".
func NormalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "www.")
}

// ReferrerDomain normalises a referrer URL to a bare host: lower-cased,
// without a leading "www.". Self-referrals to any of siteHosts yield "".
func ReferrerDomain(referrer string, siteHosts ...string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	host := NormalizeHost(u.Hostname())
	if host == "" {
		return ""
	}
	for _, site := range siteHosts {
		if site != "" && host == NormalizeHost(site) {
			return ""
		}
	}
	return host
}
