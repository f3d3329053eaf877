// Package pipeline runs one ingestion end to end: resolve the link, enrich
// when a stable ID was found, then converge onto a stored place through the
// identity/dedupe upsert. Every external failure past validation degrades;
// the only hard failures are validation and a totally signal-free input.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/resolver"
	"github.com/samis-guide/guide-cli/internal/store"
)

// Enricher is the details half of the places boundary.
type Enricher interface {
	Details(ctx context.Context, placeID string) (*model.PlaceDetails, error)
}

// Request is one ingestion: a maps link plus human-supplied overrides.
type Request struct {
	SourceURL string          `json:"maps_url"`
	Overrides model.Overrides `json:"overrides"`
}

// Result reports what one ingestion did.
type Result struct {
	Place    *model.Place           `json:"place"`
	Created  bool                   `json:"created"`
	Resolved model.ResolvedLocation `json:"resolved"`
}

// Pipeline wires resolver, enricher and store together.
type Pipeline struct {
	resolver *resolver.Resolver
	enricher Enricher
	store    store.Store
	city     string
}

// New creates a Pipeline. city names the guide's region ("Madrid"); it is
// the default neighborhood and the city half of every dedupe key.
func New(res *resolver.Resolver, enricher Enricher, st store.Store, city string) *Pipeline {
	if city == "" {
		city = "Madrid"
	}
	return &Pipeline{resolver: res, enricher: enricher, store: st, city: city}
}

// Ingest resolves req.SourceURL and creates or updates the matching place.
// It returns resolver.ErrUnresolvable when the link yielded nothing usable,
// a validation error for out-of-range overrides, and wrapped store errors;
// enrichment and expansion failures never surface here.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.SourceURL == "" {
		return nil, eris.New("mapsUrl is required")
	}
	if err := req.Overrides.Validate(); err != nil {
		return nil, err
	}

	resolved, err := p.resolver.Resolve(ctx, req.SourceURL)
	if err != nil {
		return nil, err
	}

	var details *model.PlaceDetails
	if resolved.StableID != "" {
		details, err = p.enricher.Details(ctx, resolved.StableID)
		if err != nil {
			zap.L().Warn("pipeline: enrichment failed, continuing with url-derived data",
				zap.String("place_id", resolved.StableID),
				zap.Error(err),
			)
			details = nil
		}
	}

	place, created, err := p.upsert(ctx, req, resolved, details)
	if err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: ingested place",
		zap.String("id", place.ID),
		zap.String("name", place.Name),
		zap.Bool("created", created),
		zap.String("identity_key", place.IdentityKey),
	)
	return &Result{Place: place, Created: created, Resolved: resolved}, nil
}

// inferredName picks the best available display name. It never returns "".
func inferredName(resolved model.ResolvedLocation, details *model.PlaceDetails) string {
	if details != nil && details.Name != "" {
		return details.Name
	}
	if resolved.TextQuery != "" {
		return resolved.TextQuery
	}
	if resolved.Coords != nil {
		return fmt.Sprintf("Pinned place (%.5f, %.5f)", resolved.Coords.Lat, resolved.Coords.Lng)
	}
	return anchorName
}

// inferredCoords prefers enrichment coordinates over URL-derived ones.
func inferredCoords(resolved model.ResolvedLocation, details *model.PlaceDetails) *model.Coordinates {
	if details != nil && details.Coords != nil {
		return details.Coords
	}
	return resolved.Coords
}

// inferredMapsURL prefers the provider's canonical URI, then the expanded
// link, then the submitted one.
func inferredMapsURL(sourceURL string, resolved model.ResolvedLocation, details *model.PlaceDetails) string {
	if details != nil && details.MapsURI != "" {
		return details.MapsURI
	}
	if resolved.CanonicalURL != "" {
		return resolved.CanonicalURL
	}
	return sourceURL
}
