// Package extract mines identity signals out of Google Maps URLs and, when
// available, the HTML of the page behind them. Each signal type (stable
// place ID, numeric CID, coordinates, free-text query) has its own ordered
// list of heuristics; the first hit per signal wins and the heuristics never
// consult the clock or any external state, so extraction is deterministic.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/samis-guide/guide-cli/internal/model"
)

var (
	placeIDPattern   = regexp.MustCompile(`(ChI[A-Za-z0-9_-]{10,})`)
	placeIDExact     = regexp.MustCompile(`^ChI[A-Za-z0-9_-]{10,}$`)
	cidPattern       = regexp.MustCompile(`^\d{5,}$`)
	latLngPairExact  = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)$`)
	atPathPattern    = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
	dataMarkPattern  = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	mapsPathSegments = regexp.MustCompile(`(?i)/maps/(?:place|search)/([^/]+)`)
)

// Signals runs every heuristic against the URL (and the HTML body when
// given) and assembles a partial ResolvedLocation. Fields that nothing
// matched stay zero.
func Signals(rawURL, htmlBody string) model.ResolvedLocation {
	return model.ResolvedLocation{
		CanonicalURL: rawURL,
		StableID:     PlaceID(rawURL),
		AlternateID:  CID(rawURL),
		Coords:       LatLng(rawURL),
		TextQuery:    textQuery(rawURL, htmlBody),
	}
}

// PlaceID pulls a stable place identifier out of a maps URL. Checked in
// order: a "place_id:"-prefixed q parameter, a bare ID token in q, the
// dedicated ID parameters, then an ID-shaped token anywhere in the URL.
func PlaceID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return scanPlaceID(rawURL)
	}
	q := u.Query()

	if v := q.Get("q"); v != "" {
		if _, id, found := strings.Cut(v, "place_id:"); found {
			if id = strings.TrimSpace(id); id != "" {
				return id
			}
		}
		if placeIDExact.MatchString(v) {
			return v
		}
	}

	for _, key := range []string{"place_id", "query_place_id", "ftid"} {
		if v := q.Get(key); strings.HasPrefix(v, "ChI") {
			return v
		}
	}

	return scanPlaceID(rawURL)
}

func scanPlaceID(rawURL string) string {
	if m := placeIDPattern.FindStringSubmatch(rawURL); len(m) > 1 {
		return m[1]
	}
	return ""
}

// CID returns the numeric alternate identifier from the cid query
// parameter. The value must be a long digit string; anything else is noise.
func CID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("cid"); cidPattern.MatchString(v) {
		return v
	}
	return ""
}

// LatLng extracts coordinates from a maps URL: the "@lat,lng" path segment,
// the !3d/!4d embedded-data markers, or a named lat,lng parameter.
// Candidates outside geographic range are rejected.
func LatLng(rawURL string) *model.Coordinates {
	if m := atPathPattern.FindStringSubmatch(rawURL); len(m) == 3 {
		if c := parsePair(m[1], m[2]); c != nil {
			return c
		}
	}
	if m := dataMarkPattern.FindStringSubmatch(rawURL); len(m) == 3 {
		if c := parsePair(m[1], m[2]); c != nil {
			return c
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	for _, key := range []string{"ll", "sll", "center", "query", "q"} {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		if m := latLngPairExact.FindStringSubmatch(v); len(m) == 3 {
			if c := parsePair(m[1], m[2]); c != nil {
				return c
			}
		}
	}
	return nil
}

func parsePair(latStr, lngStr string) *model.Coordinates {
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	c := model.Coordinates{Lat: lat, Lng: lng}
	if !c.Valid() {
		return nil
	}
	return &c
}

func textQuery(rawURL, htmlBody string) string {
	if q := TextQueryFromURL(rawURL); q != "" {
		return q
	}
	return TextQueryFromHTML(htmlBody)
}

// TextQueryFromURL derives a free-text search phrase from known maps URL
// shapes: named query parameters first, then /place/<name> and
// /search/<name> path segments.
func TextQueryFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	q := u.Query()
	for _, key := range []string{"query", "q", "destination", "daddr"} {
		if c := normalizeQueryCandidate(q.Get(key)); c != "" {
			return c
		}
	}

	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, p := range parts {
		if (p == "place" || p == "search") && i+1 < len(parts) {
			if c := normalizeQueryCandidate(parts[i+1]); c != "" {
				return c
			}
		}
	}

	if m := mapsPathSegments.FindStringSubmatch(u.Path); len(m) > 1 {
		if c := normalizeQueryCandidate(m[1]); c != "" {
			return c
		}
	}
	return ""
}

// normalizeQueryCandidate percent-decodes a candidate phrase and rejects
// anything that is really a mis-extracted identifier or coordinate pair
// rather than a place name.
func normalizeQueryCandidate(input string) string {
	if input == "" {
		return ""
	}
	decoded := strings.TrimSpace(decodeURIComponentSafe(strings.ReplaceAll(input, "+", " ")))
	if decoded == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(decoded), "place_id:") {
		return ""
	}
	if placeIDExact.MatchString(decoded) {
		return ""
	}
	if latLngPairExact.MatchString(decoded) {
		return ""
	}
	return decoded
}

func decodeURIComponentSafe(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
