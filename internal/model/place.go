package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Category classifies a place in the guide.
type Category string

const (
	CategoryRestaurant Category = "Restaurant"
	CategoryBar        Category = "Bar"
	CategoryCafe       Category = "Café"
	CategoryClub       Category = "Club"
	CategoryBrunch     Category = "Brunch"
	CategoryOther      Category = "Other"
)

// NormalizeCategory maps free-form category hints (as typed into a chat
// message) onto the fixed enum. Unknown hints become CategoryOther; an empty
// hint returns "" so callers can distinguish "not supplied".
func NormalizeCategory(input string) Category {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return ""
	case "coffee", "cafe", "café":
		return CategoryCafe
	case "restaurant", "food":
		return CategoryRestaurant
	case "bar", "drinks":
		return CategoryBar
	case "club", "nightclub":
		return CategoryClub
	case "brunch", "breakfast":
		return CategoryBrunch
	default:
		return CategoryOther
	}
}

// Coordinates is a validated lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the pair is within geographic range.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Place is the durable record a resolution converges onto. ID is a URL-safe
// slug assigned once at creation and never changed afterwards.
type Place struct {
	ID           string    `json:"id"`
	IdentityKey  string    `json:"identity_key,omitempty"`
	DedupeKey    string    `json:"dedupe_key"`
	Name         string    `json:"name"`
	Neighborhood string    `json:"neighborhood"`
	Category     Category  `json:"category"`
	Rating       float64   `json:"rating"`
	Tags         []string  `json:"tags,omitempty"`
	GoodFor      []string  `json:"good_for,omitempty"`
	Review       string    `json:"review,omitempty"`
	Address      string    `json:"address,omitempty"`
	PriceLevel   *int      `json:"price_level,omitempty"`
	Lat          *float64  `json:"lat,omitempty"`
	Lng          *float64  `json:"lng,omitempty"`
	MapsURL      string    `json:"maps_url,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
	PhotoRef     string    `json:"photo_ref,omitempty"`
	Published    bool      `json:"published"`
	Featured     bool      `json:"featured"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Coordinates returns the stored pair, if both halves are present.
func (p *Place) Coordinates() (Coordinates, bool) {
	if p.Lat == nil || p.Lng == nil {
		return Coordinates{}, false
	}
	return Coordinates{Lat: *p.Lat, Lng: *p.Lng}, true
}

// Overrides carries human-supplied field values on an ingest request. A nil
// pointer / nil slice means "not supplied"; supplied values always win over
// machine-derived ones.
type Overrides struct {
	Category     string   `json:"category,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	GoodFor      []string `json:"good_for,omitempty"`
	Review       string   `json:"review,omitempty"`
}

// Validate rejects out-of-range human input before any network work happens.
// Machine defaults are clamped elsewhere; human values are never silently
// corrected.
func (o Overrides) Validate() error {
	if o.Rating != nil && (*o.Rating < 1 || *o.Rating > 5) {
		return eris.Errorf("rating %.1f out of range [1,5]", *o.Rating)
	}
	return nil
}

// NormalizeTagSet lowercases, strips leading '#', drops empties and
// deduplicates while preserving first-seen order.
func NormalizeTagSet(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), "#")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
