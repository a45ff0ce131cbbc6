// Package filter decides whether a raw request should be recorded. It runs
// once per log line, so everything here is allocation-light and total.
package filter

import "strings"

// ShouldRecord reports whether a request for path should be kept. A path is
// excluded when it ends with any of exts (case-insensitive) or starts with
// any of prefixes (case-sensitive). Empty lists exclude nothing.
func ShouldRecord(path string, exts, prefixes []string) bool {
	if len(exts) > 0 {
		lower := strings.ToLower(path)
		for _, ext := range exts {
			if ext == "" {
				continue
			}
			if strings.HasSuffix(lower, strings.ToLower(ext)) {
				return false
			}
		}
	}
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// Classifier bundles the configured exclusion lists with user-agent
// heuristics for crawlers and scanners.
type Classifier struct {
	exts      []string
	prefixes  []string
	botAgents []string
}

// NewClassifier builds a Classifier. Extensions and bot substrings are
// lower-cased once here; prefixes are kept verbatim.
func NewClassifier(exts, prefixes, botAgents []string) *Classifier {
	c := &Classifier{prefixes: compact(prefixes)}
	for _, e := range compact(exts) {
		c.exts = append(c.exts, strings.ToLower(e))
	}
	for _, b := range compact(botAgents) {
		c.botAgents = append(c.botAgents, strings.ToLower(b))
	}
	return c
}

// Record reports whether a request with the given path and user agent
// should become an Event.
func (c *Classifier) Record(path, userAgent string) bool {
	if !ShouldRecord(path, c.exts, c.prefixes) {
		return false
	}
	return !c.IsBot(userAgent)
}

// IsBot reports whether the user agent contains a configured bot substring.
func (c *Classifier) IsBot(userAgent string) bool {
	if len(c.botAgents) == 0 || userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, b := range c.botAgents {
		if strings.Contains(ua, b) {
			return true
		}
	}
	return false
}

// ParseList splits a comma-separated configuration value, trimming blanks.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return compact(strings.Split(raw, ","))
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
