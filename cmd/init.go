package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/samis-guide/guide-cli/internal/expand"
	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/pipeline"
	"github.com/samis-guide/guide-cli/internal/places"
	"github.com/samis-guide/guide-cli/internal/resolver"
	"github.com/samis-guide/guide-cli/internal/store"
)

// env holds the initialized store, clients and pipeline shared by the
// ingest/resolve/serve commands.
type env struct {
	Store    store.Store
	Places   *places.Client
	Resolver *resolver.Resolver
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend without migrating.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url required for postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, clients and pipeline. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	placesClient := places.New(places.Options{
		APIKey:            cfg.Places.APIKey,
		BaseURL:           cfg.Places.BaseURL,
		Timeout:           time.Duration(cfg.Places.TimeoutSecs) * time.Second,
		RegionCenter:      model.Coordinates{Lat: cfg.Places.RegionLat, Lng: cfg.Places.RegionLng},
		RequestsPerSecond: cfg.Places.RequestsPerSecond,
	})

	follower := expand.New(expand.Options{
		MaxHops: cfg.Expand.MaxHops,
		Timeout: time.Duration(cfg.Expand.TimeoutSecs) * time.Second,
	})

	res := resolver.New(follower, placesClient, cfg.Ingest.City)

	return &env{
		Store:    st,
		Places:   placesClient,
		Resolver: res,
		Pipeline: pipeline.New(res, placesClient, st, cfg.Ingest.City),
	}, nil
}
