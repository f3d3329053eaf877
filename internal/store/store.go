// Package store persists resolved places. Implementations must enforce
// uniqueness on identity_key and dedupe_key so the lookup-then-insert race
// between two simultaneous ingestions of the same new place surfaces as
// ErrDuplicate, which the pipeline converts into retry-as-update.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/samis-guide/guide-cli/internal/model"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = eris.New("store: place not found")

// ErrDuplicate is returned by Insert when a unique constraint on the slug,
// identity key or dedupe key was violated.
var ErrDuplicate = eris.New("store: duplicate place")

// Filter specifies criteria for listing places.
type Filter struct {
	PublishedOnly bool           `json:"published_only,omitempty"`
	Category      model.Category `json:"category,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Place, error)
	GetByIdentityKey(ctx context.Context, key string) (*model.Place, error)
	GetByDedupeKey(ctx context.Context, key string) (*model.Place, error)
	// GetByURL matches either the originally submitted link or the resolved
	// maps URL; the raw link is the dedupe anchor of last resort.
	GetByURL(ctx context.Context, sourceURL, mapsURL string) (*model.Place, error)
	SlugExists(ctx context.Context, slug string) (bool, error)

	Insert(ctx context.Context, p *model.Place) error
	Update(ctx context.Context, p *model.Place) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]model.Place, error)

	Migrate(ctx context.Context) error
	Close() error
}
