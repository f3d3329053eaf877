package model

// ResolvedLocation is the outcome of mining one maps link (raw and expanded)
// for identity signals. Every field is optional; Empty reports whether the
// attempt produced nothing usable at all.
type ResolvedLocation struct {
	CanonicalURL string       `json:"canonical_url"`
	StableID     string       `json:"stable_id,omitempty"`
	AlternateID  string       `json:"alternate_id,omitempty"`
	Coords       *Coordinates `json:"coords,omitempty"`
	TextQuery    string       `json:"text_query,omitempty"`
}

// Empty reports whether no signal of any kind was extracted. The canonical
// URL counts as a signal of last resort: a plain-but-valid link can still
// anchor a record for later human correction.
func (r ResolvedLocation) Empty() bool {
	return r.StableID == "" && r.AlternateID == "" && r.Coords == nil &&
		r.TextQuery == "" && r.CanonicalURL == ""
}

// PlaceDetails is the enrichment result for a stable place ID.
type PlaceDetails struct {
	PlaceID    string       `json:"place_id"`
	Name       string       `json:"name"`
	Address    string       `json:"address,omitempty"`
	Coords     *Coordinates `json:"coords,omitempty"`
	MapsURI    string       `json:"maps_uri,omitempty"`
	PriceLevel *int         `json:"price_level,omitempty"`
	PhotoRef   string       `json:"photo_ref,omitempty"`
}
