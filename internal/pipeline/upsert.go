package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/samis-guide/guide-cli/internal/identity"
	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/store"
)

const (
	defaultRating = 4.0
	defaultReview = "Added from Google Maps. I'll write a real note later."

	// anchorName is the display name for a record whose resolution yielded
	// nothing beyond the URL itself.
	anchorName = "Google Maps place"
)

// upsert is the identity/dedupe engine: it decides whether the resolution
// updates an existing record or creates a new one, applying the merge
// precedence (human overrides win, name/address/coordinates/maps URI always
// refresh, everything else fills only empty columns).
func (p *Pipeline) upsert(ctx context.Context, req Request, resolved model.ResolvedLocation, details *model.PlaceDetails) (*model.Place, bool, error) {
	name := inferredName(resolved, details)
	coords := inferredCoords(resolved, details)
	mapsURL := inferredMapsURL(req.SourceURL, resolved, details)
	identityKey := identity.IdentityKey(resolved.StableID, resolved.AlternateID)

	var lat, lng float64
	if coords != nil {
		lat, lng = coords.Lat, coords.Lng
	}
	dedupeKey := identity.DedupeKey(name, p.city, lat, lng)
	if coords == nil && name == anchorName {
		// A signal-free resolution is keyed by the URL it came from. The
		// placeholder name with zeroed coordinates would otherwise collapse
		// every such link into a single record.
		dedupeKey = identity.DedupeKey(req.SourceURL, p.city, lat, lng)
	}

	existing, err := p.lookup(ctx, identityKey, dedupeKey, req.SourceURL, mapsURL)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged := p.merge(existing, req, resolved, details, name, coords, mapsURL, identityKey)
		if err := p.store.Update(ctx, merged); err != nil {
			return nil, false, eris.Wrap(err, "update place")
		}
		return merged, false, nil
	}

	created, err := p.create(ctx, req, resolved, details, name, coords, mapsURL, identityKey, dedupeKey)
	if err == nil {
		return created, true, nil
	}

	// A concurrent ingestion of the same new place won the insert race.
	// Re-read by the conflicting keys and apply this request as an update.
	if errors.Is(err, store.ErrDuplicate) {
		zap.L().Info("pipeline: insert lost creation race, retrying as update",
			zap.String("identity_key", identityKey),
			zap.String("dedupe_key", dedupeKey),
		)
		existing, lookupErr := p.lookup(ctx, identityKey, dedupeKey, req.SourceURL, mapsURL)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if existing == nil {
			return nil, false, eris.Wrap(err, "insert conflicted but no row found")
		}
		merged := p.merge(existing, req, resolved, details, name, coords, mapsURL, identityKey)
		if err := p.store.Update(ctx, merged); err != nil {
			return nil, false, eris.Wrap(err, "update place after race")
		}
		return merged, false, nil
	}

	return nil, false, eris.Wrap(err, "insert place")
}

// lookup applies the identity precedence: provider identity key, then
// dedupe key, then the stored source/maps URL as the anchor of last resort.
func (p *Pipeline) lookup(ctx context.Context, identityKey, dedupeKey, sourceURL, mapsURL string) (*model.Place, error) {
	for _, fn := range []func() (*model.Place, error){
		func() (*model.Place, error) { return p.store.GetByIdentityKey(ctx, identityKey) },
		func() (*model.Place, error) { return p.store.GetByDedupeKey(ctx, dedupeKey) },
		func() (*model.Place, error) { return p.store.GetByURL(ctx, sourceURL, mapsURL) },
	} {
		place, err := fn()
		if err == nil {
			return place, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "lookup place")
		}
	}
	return nil, nil
}

// create builds a fresh Place with machine defaults for everything the
// overrides left unspecified.
func (p *Pipeline) create(ctx context.Context, req Request, resolved model.ResolvedLocation, details *model.PlaceDetails, name string, coords *model.Coordinates, mapsURL, identityKey, dedupeKey string) (*model.Place, error) {
	ov := req.Overrides

	neighborhood := ov.Neighborhood
	if neighborhood == "" {
		neighborhood = p.city
	}
	category := model.NormalizeCategory(ov.Category)
	if category == "" {
		category = model.CategoryOther
	}
	rating := defaultRating
	if ov.Rating != nil {
		rating = *ov.Rating
	}
	review := ov.Review
	if review == "" {
		review = defaultReview
	}

	slug, err := identity.UniqueSlug(
		identity.Slugify(name+"-"+neighborhood),
		func(s string) (bool, error) { return p.store.SlugExists(ctx, s) },
	)
	if err != nil {
		return nil, eris.Wrap(err, "derive slug")
	}

	place := &model.Place{
		ID:           slug,
		IdentityKey:  identityKey,
		DedupeKey:    dedupeKey,
		Name:         name,
		Neighborhood: neighborhood,
		Category:     category,
		Rating:       rating,
		Tags:         model.NormalizeTagSet(ov.Tags),
		GoodFor:      model.NormalizeTagSet(ov.GoodFor),
		Review:       review,
		MapsURL:      mapsURL,
		SourceURL:    req.SourceURL,
	}
	if coords != nil {
		place.Lat, place.Lng = &coords.Lat, &coords.Lng
	}
	if details != nil {
		place.Address = details.Address
		place.PriceLevel = details.PriceLevel
		place.PhotoRef = details.PhotoRef
	}

	if err := p.store.Insert(ctx, place); err != nil {
		return nil, err
	}
	return place, nil
}

// merge folds a fresh resolution into an existing record. The slug and the
// stored dedupe key never change; the identity key upgrades when a stronger
// one appears.
func (p *Pipeline) merge(existing *model.Place, req Request, resolved model.ResolvedLocation, details *model.PlaceDetails, name string, coords *model.Coordinates, mapsURL, identityKey string) *model.Place {
	merged := *existing
	ov := req.Overrides

	// These four track the provider's latest truth unconditionally.
	merged.Name = name
	merged.MapsURL = mapsURL
	if details != nil && details.Address != "" {
		merged.Address = details.Address
	}
	if coords != nil {
		merged.Lat, merged.Lng = &coords.Lat, &coords.Lng
	}

	if identityKey != "" {
		merged.IdentityKey = identityKey
	}
	if merged.SourceURL == "" {
		merged.SourceURL = req.SourceURL
	}

	// Human overrides win unconditionally.
	if c := model.NormalizeCategory(ov.Category); c != "" {
		merged.Category = c
	}
	if ov.Neighborhood != "" {
		merged.Neighborhood = ov.Neighborhood
	}
	if ov.Rating != nil {
		merged.Rating = *ov.Rating
	}
	if ov.Tags != nil {
		merged.Tags = model.NormalizeTagSet(ov.Tags)
	}
	if ov.GoodFor != nil {
		merged.GoodFor = model.NormalizeTagSet(ov.GoodFor)
	}
	if ov.Review != "" {
		merged.Review = ov.Review
	}

	// Machine-derived extras are sticky: they only fill empty columns.
	if details != nil {
		if merged.PriceLevel == nil && details.PriceLevel != nil {
			merged.PriceLevel = details.PriceLevel
		}
		if merged.PhotoRef == "" {
			merged.PhotoRef = details.PhotoRef
		}
	}

	return &merged
}
