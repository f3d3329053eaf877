package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samis-guide/guide-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "guide.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func samplePlace(id string) *model.Place {
	lat, lng := 40.4114, -3.7053
	return &model.Place{
		ID:           id,
		IdentityKey:  "ChIJ" + id,
		DedupeKey:    "dk-" + id,
		Name:         "Sala Equis",
		Neighborhood: "La Latina",
		Category:     model.CategoryBar,
		Rating:       4.5,
		Tags:         []string{"cine", "vermut"},
		GoodFor:      []string{"dates"},
		Review:       "Cinema turned bar.",
		Address:      "Calle del Duque de Alba, 4",
		Lat:          &lat,
		Lng:          &lng,
		MapsURL:      "https://maps.google.com/?cid=1" + id,
		SourceURL:    "https://maps.app.goo.gl/" + id,
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	p := samplePlace("sala-equis")
	require.NoError(t, s.Insert(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.GetByID(ctx, "sala-equis")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.IdentityKey, got.IdentityKey)
	assert.Equal(t, []string{"cine", "vermut"}, got.Tags)
	assert.Equal(t, []string{"dates"}, got.GoodFor)
	require.NotNil(t, got.Lat)
	assert.InDelta(t, 40.4114, *got.Lat, 1e-9)
	assert.False(t, got.Published)
}

func TestSQLiteLookups(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, samplePlace("sala-equis")))

	byIdentity, err := s.GetByIdentityKey(ctx, "ChIJsala-equis")
	require.NoError(t, err)
	assert.Equal(t, "sala-equis", byIdentity.ID)

	byDedupe, err := s.GetByDedupeKey(ctx, "dk-sala-equis")
	require.NoError(t, err)
	assert.Equal(t, "sala-equis", byDedupe.ID)

	bySource, err := s.GetByURL(ctx, "https://maps.app.goo.gl/sala-equis", "")
	require.NoError(t, err)
	assert.Equal(t, "sala-equis", bySource.ID)

	byMaps, err := s.GetByURL(ctx, "", "https://maps.google.com/?cid=1sala-equis")
	require.NoError(t, err)
	assert.Equal(t, "sala-equis", byMaps.ID)

	_, err = s.GetByIdentityKey(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByURL(ctx, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUniqueIdentityKey(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, samplePlace("a")))

	dup := samplePlace("b")
	dup.IdentityKey = "ChIJa"
	assert.ErrorIs(t, s.Insert(ctx, dup), ErrDuplicate)
}

func TestSQLiteUniqueDedupeKey(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, samplePlace("a")))

	dup := samplePlace("b")
	dup.DedupeKey = "dk-a"
	assert.ErrorIs(t, s.Insert(ctx, dup), ErrDuplicate)
}

// Rows without a provider identity must not collide with each other.
func TestSQLiteEmptyIdentityKeysCoexist(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := samplePlace("a")
	a.IdentityKey = ""
	b := samplePlace("b")
	b.IdentityKey = ""

	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))
}

func TestSQLiteUpdate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	p := samplePlace("sala-equis")
	require.NoError(t, s.Insert(ctx, p))

	p.Name = "Sala Equis (updated)"
	p.Published = true
	p.Tags = []string{"cine"}
	require.NoError(t, s.Update(ctx, p))

	got, err := s.GetByID(ctx, "sala-equis")
	require.NoError(t, err)
	assert.Equal(t, "Sala Equis (updated)", got.Name)
	assert.True(t, got.Published)
	assert.Equal(t, []string{"cine"}, got.Tags)

	missing := samplePlace("ghost")
	assert.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)
}

func TestSQLiteDelete(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, samplePlace("sala-equis")))

	require.NoError(t, s.Delete(ctx, "sala-equis"))
	_, err := s.GetByID(ctx, "sala-equis")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "sala-equis"), ErrNotFound)
}

func TestSQLiteSlugExists(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, samplePlace("sala-equis")))

	taken, err := s.SlugExists(ctx, "sala-equis")
	require.NoError(t, err)
	assert.True(t, taken)

	free, err := s.SlugExists(ctx, "sala-equis-2")
	require.NoError(t, err)
	assert.False(t, free)
}

func TestSQLiteList(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := samplePlace("a")
	a.Published = true
	a.Category = model.CategoryBar
	a.Rating = 4.0
	b := samplePlace("b")
	b.Published = true
	b.Category = model.CategoryCafe
	b.Rating = 5.0
	c := samplePlace("c")
	c.Published = false

	for _, p := range []*model.Place{a, b, c} {
		require.NoError(t, s.Insert(ctx, p))
	}

	published, err := s.List(ctx, Filter{PublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, "b", published[0].ID, "higher rating sorts first")

	cafes, err := s.List(ctx, Filter{Category: model.CategoryCafe})
	require.NoError(t, err)
	require.Len(t, cafes, 1)
	assert.Equal(t, "b", cafes[0].ID)

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
