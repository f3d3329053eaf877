// Package expand follows Google Maps share links through their redirect
// chains. Short links (maps.app.goo.gl, goo.gl) redirect several times,
// sometimes through tracking wrappers that carry the real link in a query
// parameter, and sometimes through interstitial pages that redirect via
// JavaScript instead of a Location header. The follower inspects every hop
// and never propagates transport errors: a link that cannot be expanded is
// returned as-is so the rest of the pipeline can still try to use it.
package expand

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxHops = 4
	hardMaxHops    = 8
	defaultTimeout = 8 * time.Second
	maxBodyBytes   = 512 * 1024

	// Some short-link hosts refuse bare-client requests.
	browserUA     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
)

// Options configures the follower.
type Options struct {
	MaxHops int
	Timeout time.Duration
}

// Result is the outcome of following one link.
type Result struct {
	FinalURL string
	Body     string // last fetched page body, "" when no body was read
}

// Follower expands short links with manual redirect handling.
type Follower struct {
	client  *http.Client
	maxHops int
}

// New creates a Follower. Redirects are handled hop by hop so intermediate
// URLs can be inspected for nested links.
func New(opts Options) *Follower {
	if opts.MaxHops <= 0 {
		opts.MaxHops = defaultMaxHops
	}
	if opts.MaxHops > hardMaxHops {
		opts.MaxHops = hardMaxHops
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Follower{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxHops: opts.MaxHops,
	}
}

// Follow expands rawURL and returns the final URL plus the last page body.
// It fails open: on timeout, network error or hop exhaustion it returns the
// last known URL rather than an error.
func (f *Follower) Follow(ctx context.Context, rawURL string) Result {
	current := stripTrailingPunct(strings.TrimSpace(rawURL))
	seen := make(map[string]bool, f.maxHops)
	var lastBody string

	for hop := 0; hop < f.maxHops; hop++ {
		if current == "" || seen[current] {
			break
		}
		seen[current] = true

		// A tracking wrapper may carry the real maps link in a query
		// parameter. Jump straight to it without a network call.
		if nested := MapsURLFromParams(current); nested != "" && nested != current {
			current = nested
			continue
		}

		loc, body, err := f.hop(ctx, current)
		if err != nil {
			zap.L().Warn("expand: hop failed, keeping last known url",
				zap.String("url", current),
				zap.Error(err),
			)
			return Result{FinalURL: current, Body: lastBody}
		}

		if loc != "" {
			if nested := MapsURLFromParams(loc); nested != "" && nested != current {
				current = nested
				continue
			}
			current = loc
			continue
		}

		lastBody = body
		// Non-redirect response. Interstitial pages still hide the real
		// link in the markup.
		if fromHTML := mapsURLFromHTML(body); fromHTML != "" && fromHTML != current && !seen[fromHTML] {
			current = fromHTML
			continue
		}
		return Result{FinalURL: current, Body: body}
	}

	return Result{FinalURL: current, Body: lastBody}
}

// hop performs one HTTP round trip. For redirect responses it returns the
// absolute Location target; otherwise it returns the page body.
func (f *Follower) hop(ctx context.Context, rawURL string) (location, body string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", browserAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", "", nil
		}
		if ref, perr := resp.Request.URL.Parse(loc); perr == nil {
			loc = ref.String()
		}
		return stripTrailingPunct(loc), "", nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", "", err
	}
	return "", string(data), nil
}

// nestedParamKeys are query parameters known to wrap a destination link.
var nestedParamKeys = []string{"link", "url", "q", "query", "destination", "daddr"}

var linkPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)

// MapsURLFromParams returns a Google Maps URL embedded in one of the known
// wrapper query parameters of rawURL, or "".
func MapsURLFromParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range nestedParamKeys {
		value := strings.TrimSpace(q.Get(key))
		if value == "" {
			continue
		}
		decoded := decodeURIComponentSafe(value)
		candidate := decoded
		if m := linkPattern.FindString(decoded); m != "" {
			candidate = m
		}
		candidate = stripTrailingPunct(candidate)
		if IsMapsURL(candidate) {
			return candidate
		}
	}
	return ""
}

var (
	jsLocationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)window\.location\.replace\(['"]([^'"]+)['"]\)`),
		regexp.MustCompile(`(?i)window\.location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)location\.href\s*=\s*['"]([^'"]+)['"]`),
	}
	canonicalPattern = regexp.MustCompile(`(?i)<link[^>]+rel=["']canonical["'][^>]+href=["']([^"']+)["']`)
	metaURLPattern   = regexp.MustCompile(`(?i)<meta[^>]+url=([^">\s]+)`)
	mapsLinkPattern  = regexp.MustCompile(`(?i)https?://(?:maps\.app\.goo\.gl|goo\.gl/maps|(?:www\.)?google\.[a-z.]+/maps|maps\.google\.[a-z.]+)/[^\s"'<>]+`)
)

// mapsURLFromHTML mines an interstitial page for its real destination:
// JS redirects first, then the canonical link, then a meta refresh target,
// then any bare maps link in the markup.
func mapsURLFromHTML(html string) string {
	if html == "" {
		return ""
	}
	normalized := DecodeEscapedURL(html)

	for _, p := range jsLocationPatterns {
		if m := p.FindStringSubmatch(normalized); len(m) > 1 {
			if c := stripTrailingPunct(m[1]); IsMapsURL(c) {
				return c
			}
		}
	}
	if m := canonicalPattern.FindStringSubmatch(normalized); len(m) > 1 {
		if c := stripTrailingPunct(m[1]); IsMapsURL(c) {
			return c
		}
	}
	if m := metaURLPattern.FindStringSubmatch(normalized); len(m) > 1 {
		if c := stripTrailingPunct(m[1]); IsMapsURL(c) {
			return c
		}
	}
	if m := mapsLinkPattern.FindString(normalized); m != "" {
		if c := stripTrailingPunct(m); IsMapsURL(c) {
			return c
		}
	}
	return ""
}

// IsMapsURL reports whether value points at a Google Maps property.
func IsMapsURL(value string) bool {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "maps.app.goo.gl", host == "goo.gl":
		return true
	case strings.HasPrefix(host, "maps.google."):
		return true
	case strings.Contains(host, "google.") && strings.HasPrefix(u.Path, "/maps"):
		return true
	}
	return false
}

var escapedHex = regexp.MustCompile(`\\x([0-9A-Fa-f]{2})|\\u([0-9A-Fa-f]{4})`)

// DecodeEscapedURL undoes the \xNN / \uNNNN / \/ escaping Google applies to
// URLs embedded in inline script blocks.
func DecodeEscapedURL(value string) string {
	out := escapedHex.ReplaceAllStringFunc(value, func(m string) string {
		hex := m[2:]
		var r rune
		for _, c := range hex {
			r = r*16 + rune(hexVal(byte(c)))
		}
		return string(r)
	})
	return strings.ReplaceAll(out, `\/`, "/")
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

var trailingPunct = regexp.MustCompile(`[),.!?]+$`)

func stripTrailingPunct(value string) string {
	return trailingPunct.ReplaceAllString(value, "")
}

func decodeURIComponentSafe(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
