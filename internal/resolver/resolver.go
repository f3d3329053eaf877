// Package resolver turns an arbitrary maps share link into a
// ResolvedLocation: it expands the link, mines both the raw and the expanded
// URL for signals, and recovers a stable place ID through directory search
// when extraction alone did not produce one.
package resolver

import (
	"context"
	"net/url"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/samis-guide/guide-cli/internal/expand"
	"github.com/samis-guide/guide-cli/internal/extract"
	"github.com/samis-guide/guide-cli/internal/model"
)

// ErrUnresolvable means no usable signal of any kind was recovered. It is
// the only resolution error surfaced to callers; everything upstream
// degrades instead of failing.
var ErrUnresolvable = eris.New("could not determine useful place data from URL; try a full share link")

// Directory is the search half of the places boundary the resolver consumes.
type Directory interface {
	SearchText(ctx context.Context, query string) (string, error)
	SearchNearby(ctx context.Context, lat, lng float64) (string, error)
}

// Resolver expands and mines maps links.
type Resolver struct {
	follower   *expand.Follower
	directory  Directory
	regionHint string
}

// New creates a Resolver. regionHint is appended to text-search queries to
// keep results inside the guide's city (e.g. "Madrid").
func New(follower *expand.Follower, directory Directory, regionHint string) *Resolver {
	return &Resolver{follower: follower, directory: directory, regionHint: regionHint}
}

var httpPrefix = regexp.MustCompile(`(?i)^https?://`)

// Resolve runs the full extraction ladder for one link. The returned
// location always carries the expanded URL as CanonicalURL; ErrUnresolvable
// is returned only when the total yield was zero.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (model.ResolvedLocation, error) {
	expanded := r.follower.Follow(ctx, rawURL)

	// Canonicalization sometimes drops identifiers from one form of the
	// URL but not the other, so both are mined. The raw URL wins for the
	// place ID (redirects can strip a precise q=place_id: parameter);
	// the expanded URL wins for coordinates and text, which short links
	// never carry themselves.
	rawSignals := extract.Signals(rawURL, "")
	expSignals := extract.Signals(expanded.FinalURL, expanded.Body)

	resolved := model.ResolvedLocation{
		CanonicalURL: expanded.FinalURL,
		StableID:     firstNonEmpty(rawSignals.StableID, expSignals.StableID),
		AlternateID:  firstNonEmpty(rawSignals.AlternateID, expSignals.AlternateID),
		TextQuery:    firstNonEmpty(expSignals.TextQuery, rawSignals.TextQuery),
	}
	if expSignals.Coords != nil {
		resolved.Coords = expSignals.Coords
	} else {
		resolved.Coords = rawSignals.Coords
	}

	if resolved.StableID == "" && resolved.TextQuery != "" {
		query := resolved.TextQuery
		if r.regionHint != "" {
			query += " " + r.regionHint
		}
		id, err := r.directory.SearchText(ctx, query)
		if err != nil {
			zap.L().Warn("resolver: text search failed",
				zap.String("query", query),
				zap.Error(err),
			)
		} else {
			resolved.StableID = id
		}
	}

	if resolved.StableID == "" && resolved.Coords != nil {
		id, err := r.directory.SearchNearby(ctx, resolved.Coords.Lat, resolved.Coords.Lng)
		if err != nil {
			zap.L().Warn("resolver: nearby search failed",
				zap.Float64("lat", resolved.Coords.Lat),
				zap.Float64("lng", resolved.Coords.Lng),
				zap.Error(err),
			)
		} else {
			resolved.StableID = id
		}
	}

	// A chase that dead-ends on a consent or app interstitial leaves the
	// interstitial as the final URL. When a name was still mined out of the
	// page, a maps search link built from it is the more useful canonical
	// URL to store.
	if resolved.TextQuery != "" && !expand.IsMapsURL(resolved.CanonicalURL) {
		resolved.CanonicalURL = "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(resolved.TextQuery)
	}

	// A syntactically valid link is still an anchor: a record keyed on it
	// can be corrected by a human later. Anything less is unresolvable.
	if resolved.StableID == "" && resolved.AlternateID == "" &&
		resolved.Coords == nil && resolved.TextQuery == "" &&
		!httpPrefix.MatchString(expanded.FinalURL) && !httpPrefix.MatchString(rawURL) {
		return model.ResolvedLocation{}, ErrUnresolvable
	}

	return resolved, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
