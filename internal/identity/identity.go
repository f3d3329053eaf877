// Package identity derives the keys that let repeated ingestions of the same
// venue converge onto one record: the provider-based identity key, the
// normalized dedupe key, and the URL slug used as the primary key.
package identity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accent folding: decompose, drop combining marks, recompose.
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeText lowercases, folds accents, replaces every non-alphanumeric
// run with a single space and trims. "Café Central " -> "cafe central".
func NormalizeText(input string) string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(input))
	if err != nil {
		folded = strings.ToLower(input)
	}
	return strings.TrimSpace(nonAlnum.ReplaceAllString(folded, " "))
}

// DedupeKey buckets a place by normalized name, normalized city and
// coordinates rounded to 4 decimals (~11 m). Two slightly different readings
// of the same venue collide on purpose.
func DedupeKey(name, city string, lat, lng float64) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		NormalizeText(name), NormalizeText(city), round4(lat), round4(lng))
}

func round4(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// IdentityKey returns the durable per-provider key: the stable place ID when
// present, a synthetic "cid:" key from the alternate numeric ID otherwise,
// or "" when neither exists.
func IdentityKey(stableID, alternateID string) string {
	if stableID != "" {
		return stableID
	}
	if alternateID != "" {
		return "cid:" + alternateID
	}
	return ""
}

// Slugify turns a display string into a URL-safe slug: accent-folded,
// lowercased, non-alphanumerics collapsed to single hyphens.
func Slugify(input string) string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(input))
	if err != nil {
		folded = strings.ToLower(input)
	}
	slug := nonAlnum.ReplaceAllString(strings.ReplaceAll(folded, "'", ""), "-")
	return strings.Trim(slug, "-")
}

// UniqueSlug appends -2, -3, ... to base until exists reports it free. The
// chosen slug becomes the place ID and is immutable from then on.
func UniqueSlug(base string, exists func(slug string) (bool, error)) (string, error) {
	slug := base
	for i := 2; ; i++ {
		taken, err := exists(slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
