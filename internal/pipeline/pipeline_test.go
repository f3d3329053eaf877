package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samis-guide/guide-cli/internal/expand"
	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/resolver"
	"github.com/samis-guide/guide-cli/internal/store"
)

type fakeEnricher struct {
	details *model.PlaceDetails
	err     error
	calls   int
}

func (f *fakeEnricher) Details(ctx context.Context, placeID string) (*model.PlaceDetails, error) {
	f.calls++
	return f.details, f.err
}

type fakeDirectory struct{}

func (fakeDirectory) SearchText(ctx context.Context, query string) (string, error) {
	return "", nil
}

func (fakeDirectory) SearchNearby(ctx context.Context, lat, lng float64) (string, error) {
	return "", nil
}

const testPlaceID = "ChIJC7cDVTQoQg0RBPZ6dYOdNkM"

// placeServer serves a redirect to a fully-signaled maps place URL, the
// shape a short link expands into.
func placeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := fmt.Sprintf(
			"https://www.google.com/maps/place/Sala+Equis/@40.4114,-3.7053,17z/data=!4m6!3m5!1s%s!8m2!3d40.4114!4d-3.7053",
			testPlaceID,
		)
		http.Redirect(w, r, target, http.StatusFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(st store.Store, enricher Enricher) *Pipeline {
	res := resolver.New(expand.New(expand.Options{MaxHops: 1}), fakeDirectory{}, "Madrid")
	return New(res, enricher, st, "Madrid")
}

func enrichedDetails() *model.PlaceDetails {
	price := 2
	return &model.PlaceDetails{
		PlaceID:    testPlaceID,
		Name:       "Sala Equis",
		Address:    "Calle del Duque de Alba, 4, Madrid",
		Coords:     &model.Coordinates{Lat: 40.41141, Lng: -3.70529},
		MapsURI:    "https://maps.google.com/?cid=98765",
		PriceLevel: &price,
		PhotoRef:   "places/x/photos/1",
	}
}

func TestIngestCreatesPlace(t *testing.T) {
	st := store.NewMemory()
	enricher := &fakeEnricher{details: enrichedDetails()}
	p := newTestPipeline(st, enricher)
	srv := placeServer(t)

	result, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/share"})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, 1, enricher.calls)

	place := result.Place
	assert.Equal(t, "sala-equis-madrid", place.ID)
	assert.Equal(t, testPlaceID, place.IdentityKey)
	assert.Equal(t, "Sala Equis", place.Name)
	assert.Equal(t, "Madrid", place.Neighborhood)
	assert.Equal(t, model.CategoryOther, place.Category)
	assert.Equal(t, defaultRating, place.Rating)
	assert.Equal(t, defaultReview, place.Review)
	assert.Equal(t, "Calle del Duque de Alba, 4, Madrid", place.Address)
	assert.Equal(t, "https://maps.google.com/?cid=98765", place.MapsURL)
	assert.Equal(t, srv.URL+"/share", place.SourceURL)
	require.NotNil(t, place.Lat)
	assert.InDelta(t, 40.41141, *place.Lat, 1e-9)
	require.NotNil(t, place.PriceLevel)
	assert.Equal(t, 2, *place.PriceLevel)
	assert.False(t, place.Published)
}

// Resubmitting the same link must converge onto the existing record, not
// create a second one.
func TestIngestIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	p := newTestPipeline(st, &fakeEnricher{details: enrichedDetails()})
	srv := placeServer(t)

	first, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/share"})
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/share"})
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Place.ID, second.Place.ID)

	all, err := st.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngestOverridesWin(t *testing.T) {
	st := store.NewMemory()
	p := newTestPipeline(st, &fakeEnricher{details: enrichedDetails()})
	srv := placeServer(t)

	_, err := p.Ingest(context.Background(), Request{
		SourceURL: srv.URL + "/share",
		Overrides: model.Overrides{Category: "Café", Tags: []string{"#Cine", "vermut"}},
	})
	require.NoError(t, err)

	rating := 4.5
	second, err := p.Ingest(context.Background(), Request{
		SourceURL: srv.URL + "/share",
		Overrides: model.Overrides{Category: "Restaurant", Rating: &rating, Review: "Still great."},
	})
	require.NoError(t, err)

	place := second.Place
	assert.False(t, second.Created)
	assert.Equal(t, model.CategoryRestaurant, place.Category, "later override replaces earlier one")
	assert.Equal(t, 4.5, place.Rating)
	assert.Equal(t, "Still great.", place.Review)
	assert.Equal(t, []string{"cine", "vermut"}, place.Tags, "absent override leaves earlier tags alone")
}

func TestIngestDegradesWhenEnrichmentFails(t *testing.T) {
	st := store.NewMemory()
	enricher := &fakeEnricher{err: eris.New("places api down")}
	p := newTestPipeline(st, enricher)
	srv := placeServer(t)

	result, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/share"})
	require.NoError(t, err, "enrichment failure must not fail the ingest")

	place := result.Place
	assert.Equal(t, "Sala Equis", place.Name, "name recovered from the URL")
	require.NotNil(t, place.Lat)
	assert.InDelta(t, 40.4114, *place.Lat, 1e-9)
	assert.Empty(t, place.Address)
	assert.Equal(t, testPlaceID, place.IdentityKey)
}

func TestIngestURLWithoutSignalsIsAnchor(t *testing.T) {
	st := store.NewMemory()
	p := newTestPipeline(st, &fakeEnricher{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	first, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/x"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "Google Maps place", first.Place.Name)
	assert.Empty(t, first.Place.IdentityKey)

	// The same URL converges onto the existing record.
	second, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/x"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Place.ID, second.Place.ID)
}

// Two unrelated links that both resolve to nothing must stay two records;
// the shared placeholder name is not an identity.
func TestIngestDistinctSignalFreeURLsStaySeparate(t *testing.T) {
	st := store.NewMemory()
	p := newTestPipeline(st, &fakeEnricher{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	first, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/place-one"})
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/place-two"})
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.NotEqual(t, first.Place.ID, second.Place.ID)

	kept, err := st.GetByID(context.Background(), first.Place.ID)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/place-one", kept.MapsURL, "the first anchor keeps its own link")

	all, err := st.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIngestRejectsInvalidRating(t *testing.T) {
	p := newTestPipeline(store.NewMemory(), &fakeEnricher{})

	rating := 6.0
	_, err := p.Ingest(context.Background(), Request{
		SourceURL: "https://maps.app.goo.gl/x",
		Overrides: model.Overrides{Rating: &rating},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestIngestRequiresURL(t *testing.T) {
	p := newTestPipeline(store.NewMemory(), &fakeEnricher{})
	_, err := p.Ingest(context.Background(), Request{})
	assert.Error(t, err)
}

func TestIngestUnresolvable(t *testing.T) {
	p := newTestPipeline(store.NewMemory(), &fakeEnricher{})
	_, err := p.Ingest(context.Background(), Request{SourceURL: "complete junk"})
	assert.ErrorIs(t, err, resolver.ErrUnresolvable)
}

// racingStore simulates a concurrent ingestion winning the insert race: the
// rival row appears between this request's lookup and its insert.
type racingStore struct {
	*store.MemoryStore
	rival *model.Place
}

func (r *racingStore) Insert(ctx context.Context, p *model.Place) error {
	if _, err := r.MemoryStore.GetByID(ctx, r.rival.ID); err != nil {
		if err := r.MemoryStore.Insert(ctx, r.rival); err != nil {
			return err
		}
		return store.ErrDuplicate
	}
	return r.MemoryStore.Insert(ctx, p)
}

func TestIngestRetriesAsUpdateAfterInsertRace(t *testing.T) {
	srv := placeServer(t)
	details := enrichedDetails()

	rival := &model.Place{
		ID:          "sala-equis-madrid",
		IdentityKey: testPlaceID,
		DedupeKey:   "sala equis|madrid|40.4114|-3.7053",
		Name:        "Sala Equis",
		Rating:      4,
	}
	st := &racingStore{MemoryStore: store.NewMemory(), rival: rival}
	p := newTestPipeline(st, &fakeEnricher{details: details})

	result, err := p.Ingest(context.Background(), Request{SourceURL: srv.URL + "/share"})
	require.NoError(t, err)

	assert.False(t, result.Created, "race loser applies itself as an update")
	assert.Equal(t, rival.ID, result.Place.ID)

	all, err := st.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
