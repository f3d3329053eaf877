package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/samis-guide/guide-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	id           TEXT PRIMARY KEY,
	identity_key TEXT,
	dedupe_key   TEXT NOT NULL,
	name         TEXT NOT NULL,
	neighborhood TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT 'Other',
	rating       DOUBLE PRECISION NOT NULL DEFAULT 4.0,
	tags         TEXT[] NOT NULL DEFAULT '{}',
	good_for     TEXT[] NOT NULL DEFAULT '{}',
	review       TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	price_level  INTEGER,
	lat          DOUBLE PRECISION,
	lng          DOUBLE PRECISION,
	maps_url     TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	photo_ref    TEXT NOT NULL DEFAULT '',
	published    BOOLEAN NOT NULL DEFAULT false,
	featured     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_places_identity_key ON places(identity_key) WHERE identity_key IS NOT NULL AND identity_key != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_places_dedupe_key ON places(dedupe_key);
CREATE INDEX IF NOT EXISTS idx_places_source_url ON places(source_url);
CREATE INDEX IF NOT EXISTS idx_places_published ON places(published);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgPlaceColumns = `id, identity_key, dedupe_key, name, neighborhood, category, rating,
	tags, good_for, review, address, price_level, lat, lng,
	maps_url, source_url, photo_ref, published, featured, created_at, updated_at`

func (s *PostgresStore) getOne(ctx context.Context, where string, args ...any) (*model.Place, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+pgPlaceColumns+" FROM places WHERE "+where, args...)
	p, err := scanPGPlace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get place")
	}
	return p, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.Place, error) {
	return s.getOne(ctx, "id = $1", id)
}

func (s *PostgresStore) GetByIdentityKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, "identity_key = $1", key)
}

func (s *PostgresStore) GetByDedupeKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, "dedupe_key = $1", key)
}

func (s *PostgresStore) GetByURL(ctx context.Context, sourceURL, mapsURL string) (*model.Place, error) {
	if sourceURL == "" && mapsURL == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx,
		"(source_url <> '' AND source_url IN ($1, $2)) OR (maps_url <> '' AND maps_url IN ($1, $2)) LIMIT 1",
		sourceURL, mapsURL)
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM places WHERE id = $1)", slug).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: slug exists")
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p *model.Place) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO places (`+pgPlaceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		p.ID, nullIfEmpty(p.IdentityKey), p.DedupeKey, p.Name, p.Neighborhood, string(p.Category), p.Rating,
		emptyIfNil(p.Tags), emptyIfNil(p.GoodFor), p.Review, p.Address, p.PriceLevel, p.Lat, p.Lng,
		p.MapsURL, p.SourceURL, p.PhotoRef, p.Published, p.Featured, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrap(err, "postgres: insert place")
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, p *model.Place) error {
	p.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE places SET identity_key = $1, dedupe_key = $2, name = $3, neighborhood = $4,
			category = $5, rating = $6, tags = $7, good_for = $8, review = $9, address = $10,
			price_level = $11, lat = $12, lng = $13, maps_url = $14, source_url = $15, photo_ref = $16,
			published = $17, featured = $18, updated_at = $19
		WHERE id = $20`,
		nullIfEmpty(p.IdentityKey), p.DedupeKey, p.Name, p.Neighborhood,
		string(p.Category), p.Rating, emptyIfNil(p.Tags), emptyIfNil(p.GoodFor), p.Review, p.Address,
		p.PriceLevel, p.Lat, p.Lng, p.MapsURL, p.SourceURL, p.PhotoRef,
		p.Published, p.Featured, p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrap(err, "postgres: update place")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM places WHERE id = $1", id)
	if err != nil {
		return eris.Wrap(err, "postgres: delete place")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]model.Place, error) {
	query := "SELECT " + pgPlaceColumns + " FROM places"
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.PublishedOnly {
		conds = append(conds, "published = true")
	}
	if filter.Category != "" {
		conds = append(conds, "category = "+arg(string(filter.Category)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY featured DESC, rating DESC, name ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + arg(filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list places")
	}
	defer rows.Close()

	var places []model.Place
	for rows.Next() {
		p, err := scanPGPlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan place")
		}
		places = append(places, *p)
	}
	return places, eris.Wrap(rows.Err(), "postgres: list places")
}

func scanPGPlace(row pgx.Row) (*model.Place, error) {
	var p model.Place
	var identityKey *string

	err := row.Scan(
		&p.ID, &identityKey, &p.DedupeKey, &p.Name, &p.Neighborhood, &p.Category, &p.Rating,
		&p.Tags, &p.GoodFor, &p.Review, &p.Address, &p.PriceLevel, &p.Lat, &p.Lng,
		&p.MapsURL, &p.SourceURL, &p.PhotoRef, &p.Published, &p.Featured, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if identityKey != nil {
		p.IdentityKey = *identityKey
	}
	return &p, nil
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
