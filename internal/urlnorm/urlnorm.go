// Package urlnorm canonicalizes job-posting URLs into the system's
// dedup identity (spec §4.A). It follows the same net/url-centric
// approach used for link resolution in the teacher's scraper package,
// generalized into the ordered canonicalization rules.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParamPrefixes and trackingParamNames hold the query keys
// stripped during canonicalization (spec §4.A rule 4).
var trackingParamPrefixes = []string{"utm_", "mc_"}

var trackingParamNames = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"ref":     {},
	"ref_src": {},
	"source":  {},
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := trackingParamNames[lower]; ok {
		return true
	}
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Canonicalize applies the ordered rules from spec §4.A and returns
// the canonical form. If the URL cannot be parsed, the original string
// is returned unchanged (rule 1).
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(stripUserinfo(u.Host))
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	// Path case is preserved deliberately — only the trailing slash is
	// stripped.
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		values := u.Query()
		for key := range values {
			if isTrackingParam(key) {
				values.Del(key)
			}
		}
		u.RawQuery = encodeSorted(values)
	}

	return u.String()
}

// stripUserinfo removes a "user:pass@" prefix from a raw host string,
// in case url.Parse left it attached (it normally parses it into
// u.User, but defensive-strip keeps this correct even for malformed
// inputs that still parsed).
func stripUserinfo(host string) string {
	if idx := strings.LastIndex(host, "@"); idx != -1 {
		return host[idx+1:]
	}
	return host
}

// encodeSorted renders query values with lexicographically sorted keys
// (spec §4.A rule 5), independent of url.Values.Encode's own sort
// (which already sorts — we keep this explicit since it is a named
// invariant, not an accident of the stdlib).
func encodeSorted(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			_ = i
			_ = j
		}
	}
	return b.String()
}

// Host returns the lowercased, userinfo-stripped host of raw, adding a
// scheme if one is missing so bare "example.com"-style input still
// parses. Returns "" for empty or unparsable input.
func Host(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(stripUserinfo(u.Host))
}

// Hash returns the 32-byte SHA-256 hash (hex-encoded) of the canonical
// URL, the system's dedup identity (spec §3).
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeAndHash runs Canonicalize then Hash in one call, which is
// the form every caller in H and J actually wants.
func CanonicalizeAndHash(raw string) (canonical string, hash string) {
	canonical = Canonicalize(raw)
	return canonical, Hash(canonical)
}

// Equivalent reports whether two URLs canonicalize to the same form
// (spec §8 law: equivalent(a,b) ≡ canonical(a)==canonical(b)).
func Equivalent(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}
