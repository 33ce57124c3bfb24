// Package urls canonicalizes bookmark URLs before storage. Credentials and
// tracking parameters never reach the database, and variants of the same
// page (utm-tagged shares, fragment anchors) canonicalize identically so the
// fingerprint fallback treats them as one document.
package urls

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters dropped during canonicalization.
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
}

// isTracking reports whether a query parameter carries tracking state.
func isTracking(key string) bool {
	k := strings.ToLower(key)
	return trackingParams[k] || strings.HasPrefix(k, "utm_")
}

// Canonicalize normalizes a bookmark URL: lowercased scheme and host,
// stripped userinfo, fragment, and tracking parameters, remaining query
// parameters sorted. Unparseable input is returned unchanged.
func Canonicalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			if isTracking(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range values[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	// Trailing slash on a bare path is noise.
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// Domain extracts the host for topic grouping, dropping a leading www.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
