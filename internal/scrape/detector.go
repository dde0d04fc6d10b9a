package scrape

import (
	"net/url"
	"regexp"
	"strings"
)

// Detection is the fully-populated output of platform detection.
type Detection struct {
	Platform    string
	ContentType ContentType
	Strategy    Strategy
}

// Detector classifies URLs by platform and recommends an extraction
// strategy. It is a pure function over its pattern tables: no I/O, no
// shared state, safe for concurrent use.
type Detector struct {
	instagramPatterns []*regexp.Regexp
	tiktokPatterns    []*regexp.Regexp
	youtubePatterns   []*regexp.Regexp
	blogDomains       []string
	newsDomains       []string
}

var (
	instagramPatterns = []string{
		`(?i)instagram\.com/p/`,
		`(?i)instagram\.com/reel/`,
		`(?i)instagram\.com/tv/`,
	}
	tiktokPatterns = []string{
		`(?i)tiktok\.com/@.*/video/`,
		`(?i)vm\.tiktok\.com/`,
		`(?i)vt\.tiktok\.com/`,
	}
	youtubePatterns = []string{
		`(?i)youtube\.com/watch`,
		`(?i)youtu\.be/`,
		`(?i)youtube\.com/shorts/`,
	}
)

// Blog and news domain tables. Matching is exact-or-proper-subdomain so
// a hostile registration like medium.com.evil.tld never matches.
var (
	blogDomains = []string{
		"medium.com",
		"substack.com",
		"wordpress.com",
		"blogspot.com",
		"ghost.io",
	}
	newsDomains = []string{
		"nytimes.com",
		"bbc.com",
		"cnn.com",
		"reuters.com",
		"theguardian.com",
	}
)

// NewDetector builds a Detector with the default pattern tables.
func NewDetector() *Detector {
	return &Detector{
		instagramPatterns: compilePatterns(instagramPatterns),
		tiktokPatterns:    compilePatterns(tiktokPatterns),
		youtubePatterns:   compilePatterns(youtubePatterns),
		blogDomains:       blogDomains,
		newsDomains:       newsDomains,
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Detect returns the platform, content type and recommended extraction
// strategy for a URL. An optional hint short-circuits detection for the
// known social platforms. The result is always fully populated; unknown
// URLs fall back to generic/link/opengraph.
func (d *Detector) Detect(rawURL, platformHint string) Detection {
	if hint := strings.ToLower(strings.TrimSpace(platformHint)); hint != "" {
		switch hint {
		case "instagram", "tiktok", "youtube":
			return Detection{Platform: hint, ContentType: ContentVideo, Strategy: StrategyYtDlp}
		}
	}

	// Social video platforms first: their URLs often live on domains
	// that would otherwise dead-end in the generic fallback.
	if matchesAny(rawURL, d.instagramPatterns) {
		return Detection{Platform: "instagram", ContentType: ContentVideo, Strategy: StrategyYtDlp}
	}
	if matchesAny(rawURL, d.tiktokPatterns) {
		return Detection{Platform: "tiktok", ContentType: ContentVideo, Strategy: StrategyYtDlp}
	}
	if matchesAny(rawURL, d.youtubePatterns) {
		return Detection{Platform: "youtube", ContentType: ContentVideo, Strategy: StrategyYtDlp}
	}

	domain := hostOf(rawURL)
	if domainMatchesAny(domain, d.blogDomains) {
		return Detection{Platform: "blog", ContentType: ContentArticle, Strategy: StrategyPassthrough}
	}
	if domainMatchesAny(domain, d.newsDomains) {
		return Detection{Platform: "news", ContentType: ContentArticle, Strategy: StrategyPassthrough}
	}

	return Detection{Platform: "generic", ContentType: ContentLink, Strategy: StrategyOpenGraph}
}

func matchesAny(rawURL string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// hostOf extracts the lowercased host without port or www prefix.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// domainMatchesAny reports whether domain equals one of the candidates
// or is a proper subdomain of one. Suffix matching alone would let
// example.com.evil.tld impersonate example.com.
func domainMatchesAny(domain string, candidates []string) bool {
	if domain == "" {
		return false
	}
	for _, c := range candidates {
		if domain == c || strings.HasSuffix(domain, "."+c) {
			return true
		}
	}
	return false
}
