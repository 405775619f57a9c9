// Package location implements the Location Server: it resolves a
// coordinate pair to the 6-digit administrative area code whose district
// polygon contains the point, backed by a PostGIS geometry table and a
// small in-process cache.
package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDistrict is returned when no district polygon contains the point.
var ErrNoDistrict = errors.New("no district contains the point")

// GeometryStore answers point-in-polygon lookups.
type GeometryStore interface {
	// ResolveArea returns the area code of the district containing
	// (lat, lon), or ErrNoDistrict.
	ResolveArea(ctx context.Context, lat, lon float64) (string, error)
	Close()
}

// areaQuery finds the district containing a point. Coordinates are
// EPSG:6668; PostGIS wants (lon, lat) order.
const areaQuery = `SELECT code FROM districts WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 6668)) LIMIT 1`

// PostGISStore is the production GeometryStore on a bounded pgx pool.
type PostGISStore struct {
	pool *pgxpool.Pool
}

// NewPostGISStore connects to the geometry database with the given pool
// bounds.
func NewPostGISStore(ctx context.Context, dsn string, minConns, maxConns int) (*PostGISStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to geometry database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging geometry database: %w", err)
	}
	return &PostGISStore{pool: pool}, nil
}

// ResolveArea runs the point-in-polygon query. The pool handles
// borrow/return per query.
func (s *PostGISStore) ResolveArea(ctx context.Context, lat, lon float64) (string, error) {
	var code string
	err := s.pool.QueryRow(ctx, areaQuery, lon, lat).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoDistrict
	}
	if err != nil {
		return "", fmt.Errorf("point-in-polygon query: %w", err)
	}
	return code, nil
}

// Close releases the pool.
func (s *PostGISStore) Close() {
	s.pool.Close()
}
