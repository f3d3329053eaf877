package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/samis-guide/guide-cli/internal/expand"
)

// Title candidates are tried in this order. The embedded JSON "title" field
// comes last because interstitial pages bury it in script blocks where it is
// least reliable.
var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]+name=["']twitter:title["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]+name=["']description["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`),
	regexp.MustCompile(`"title"\s*:\s*"([^"]+)"`),
}

var (
	mapsSuffixPattern = regexp.MustCompile(`(?i)\s*[-|—]\s*google maps$`)
	whitespaceRuns    = regexp.MustCompile(`\s+`)
	brandOnlyPattern  = regexp.MustCompile(`(?i)^google maps$`)
	noResultsPattern  = regexp.MustCompile(`(?i)find local businesses`)
)

// TextQueryFromHTML mines a share-page body for a usable place name:
// Open Graph title, Twitter title, meta description, the <title> tag, then
// an embedded JSON "title" field. Generic provider boilerplate is rejected.
func TextQueryFromHTML(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}
	normalized := expand.DecodeEscapedURL(htmlBody)
	for _, p := range titlePatterns {
		m := p.FindStringSubmatch(normalized)
		if len(m) < 2 {
			continue
		}
		if c := cleanTitleCandidate(m[1]); c != "" {
			return c
		}
	}
	return ""
}

// cleanTitleCandidate strips provider chrome from a raw title and rejects
// placeholder phrases. Returns "" when nothing usable remains.
func cleanTitleCandidate(raw string) string {
	decoded := strings.TrimSpace(whitespaceRuns.ReplaceAllString(html.UnescapeString(raw), " "))
	if decoded == "" {
		return ""
	}

	decoded = strings.TrimSpace(mapsSuffixPattern.ReplaceAllString(decoded, ""))

	// Titles pack name, rating and address into one line separated by
	// middle dots or pipes. Only the leading segment is the name.
	for _, sep := range []string{"·", "|", "\n"} {
		if idx := strings.Index(decoded, sep); idx >= 0 {
			decoded = decoded[:idx]
		}
	}
	decoded = strings.TrimSpace(decoded)

	if len([]rune(decoded)) < 3 {
		return ""
	}
	if brandOnlyPattern.MatchString(decoded) || noResultsPattern.MatchString(decoded) {
		return ""
	}
	// A title that is itself an identifier or coordinate pair means the
	// page had no real name to offer.
	if normalizeQueryCandidate(decoded) == "" {
		return ""
	}
	return decoded
}
