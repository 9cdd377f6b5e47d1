package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagRemoveEmptyQuerySeparator

// NormalizeURL returns the canonical key for a URL: lower-cased scheme and
// host, no default port, no dot segments, no fragment, no trailing slashes.
// The query string is kept in its original order. Inputs that do not parse
// as absolute URLs are returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}

	// purell re-escapes from the decoded path, which turns %2F into a
	// separator, so the path is cleaned in escaped form here instead.
	escaped := strings.TrimRight(removeDotSegments(u.EscapedPath()), "/")
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return rawURL
	}

	u, err = url.Parse(purell.NormalizeURL(u, normalizeFlags))
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.Path = decoded
	u.RawPath = escaped

	return u.String()
}

// removeDotSegments drops "." and ".." segments from an escaped path.
func removeDotSegments(p string) string {
	if p == "" {
		return p
	}
	segments := strings.Split(p, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
		case "..":
			if len(kept) > 1 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, seg)
		}
	}
	return strings.Join(kept, "/")
}

// ResolveURL resolves href against base and normalizes the result.
// It reports false for non-navigational links (fragments, javascript:,
// mailto:, tel:, data:) and for anything that is not http(s).
func ResolveURL(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return NormalizeURL(resolved.String()), true
}

// VisitedSet records every normalized URL the crawl has enqueued. It only
// grows; a URL is added when it is admitted to the queue, not when fetched.
// Not safe for concurrent use.
type VisitedSet struct {
	seen map[string]struct{}
}

// NewVisitedSet creates a VisitedSet with the given estimated capacity.
func NewVisitedSet(estimatedCapacity int) *VisitedSet {
	return &VisitedSet{
		seen: make(map[string]struct{}, estimatedCapacity),
	}
}

// Contains reports whether the normalized form of rawURL was already added.
func (v *VisitedSet) Contains(rawURL string) bool {
	_, ok := v.seen[hashURL(NormalizeURL(rawURL))]
	return ok
}

// Add inserts rawURL and reports whether it was new.
func (v *VisitedSet) Add(rawURL string) bool {
	key := hashURL(NormalizeURL(rawURL))
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = struct{}{}
	return true
}

// Len returns the number of unique URLs seen.
func (v *VisitedSet) Len() int {
	return len(v.seen)
}

// hashURL returns a compact hash of a canonical URL.
func hashURL(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:16])
}
