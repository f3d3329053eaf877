package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/samis-guide/guide-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	id           TEXT PRIMARY KEY,
	identity_key TEXT,
	dedupe_key   TEXT NOT NULL,
	name         TEXT NOT NULL,
	neighborhood TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT 'Other',
	rating       REAL NOT NULL DEFAULT 4.0,
	tags         TEXT NOT NULL DEFAULT '[]',
	good_for     TEXT NOT NULL DEFAULT '[]',
	review       TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	price_level  INTEGER,
	lat          REAL,
	lng          REAL,
	maps_url     TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	photo_ref    TEXT NOT NULL DEFAULT '',
	published    INTEGER NOT NULL DEFAULT 0,
	featured     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_places_identity_key ON places(identity_key) WHERE identity_key IS NOT NULL AND identity_key != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_places_dedupe_key ON places(dedupe_key);
CREATE INDEX IF NOT EXISTS idx_places_source_url ON places(source_url);
CREATE INDEX IF NOT EXISTS idx_places_published ON places(published);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqlitePlaceColumns = `id, identity_key, dedupe_key, name, neighborhood, category, rating,
	tags, good_for, review, address, price_level, lat, lng,
	maps_url, source_url, photo_ref, published, featured, created_at, updated_at`

func (s *SQLiteStore) getOne(ctx context.Context, where string, args ...any) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqlitePlaceColumns+" FROM places WHERE "+where, args...)
	p, err := scanSQLitePlace(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get place")
	}
	return p, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.Place, error) {
	return s.getOne(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetByIdentityKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, "identity_key = ?", key)
}

func (s *SQLiteStore) GetByDedupeKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, "dedupe_key = ?", key)
}

func (s *SQLiteStore) GetByURL(ctx context.Context, sourceURL, mapsURL string) (*model.Place, error) {
	if sourceURL == "" && mapsURL == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx,
		"(source_url != '' AND source_url IN (?, ?)) OR (maps_url != '' AND maps_url IN (?, ?)) LIMIT 1",
		sourceURL, mapsURL, sourceURL, mapsURL)
}

func (s *SQLiteStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM places WHERE id = ?", slug).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: slug exists")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, p *model.Place) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tags, goodFor, err := encodeSets(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO places (`+sqlitePlaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullIfEmpty(p.IdentityKey), p.DedupeKey, p.Name, p.Neighborhood, string(p.Category), p.Rating,
		tags, goodFor, p.Review, p.Address, p.PriceLevel, p.Lat, p.Lng,
		p.MapsURL, p.SourceURL, p.PhotoRef, p.Published, p.Featured, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrap(err, "sqlite: insert place")
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, p *model.Place) error {
	p.UpdatedAt = time.Now().UTC()

	tags, goodFor, err := encodeSets(p)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE places SET identity_key = ?, dedupe_key = ?, name = ?, neighborhood = ?,
			category = ?, rating = ?, tags = ?, good_for = ?, review = ?, address = ?,
			price_level = ?, lat = ?, lng = ?, maps_url = ?, source_url = ?, photo_ref = ?,
			published = ?, featured = ?, updated_at = ?
		WHERE id = ?`,
		nullIfEmpty(p.IdentityKey), p.DedupeKey, p.Name, p.Neighborhood,
		string(p.Category), p.Rating, tags, goodFor, p.Review, p.Address,
		p.PriceLevel, p.Lat, p.Lng, p.MapsURL, p.SourceURL, p.PhotoRef,
		p.Published, p.Featured, p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrap(err, "sqlite: update place")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update place")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM places WHERE id = ?", id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete place")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: delete place")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]model.Place, error) {
	query := "SELECT " + sqlitePlaceColumns + " FROM places"
	var conds []string
	var args []any
	if filter.PublishedOnly {
		conds = append(conds, "published = 1")
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(filter.Category))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY featured DESC, rating DESC, name ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list places")
	}
	defer rows.Close() //nolint:errcheck

	var places []model.Place
	for rows.Next() {
		p, err := scanSQLitePlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan place")
		}
		places = append(places, *p)
	}
	return places, eris.Wrap(rows.Err(), "sqlite: list places")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePlace(row rowScanner) (*model.Place, error) {
	var p model.Place
	var identityKey sql.NullString
	var tags, goodFor string

	err := row.Scan(
		&p.ID, &identityKey, &p.DedupeKey, &p.Name, &p.Neighborhood, &p.Category, &p.Rating,
		&tags, &goodFor, &p.Review, &p.Address, &p.PriceLevel, &p.Lat, &p.Lng,
		&p.MapsURL, &p.SourceURL, &p.PhotoRef, &p.Published, &p.Featured, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.IdentityKey = identityKey.String

	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, eris.Wrap(err, "decode tags")
	}
	if err := json.Unmarshal([]byte(goodFor), &p.GoodFor); err != nil {
		return nil, eris.Wrap(err, "decode good_for")
	}
	return &p, nil
}

func encodeSets(p *model.Place) (tags string, goodFor string, err error) {
	t, err := json.Marshal(emptyIfNil(p.Tags))
	if err != nil {
		return "", "", eris.Wrap(err, "encode tags")
	}
	g, err := json.Marshal(emptyIfNil(p.GoodFor))
	if err != nil {
		return "", "", eris.Wrap(err, "encode good_for")
	}
	return string(t), string(g), nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
