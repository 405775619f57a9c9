// Package query implements the Query Server: it answers Type-2 weather
// queries for an area code from a cached document store, applying the
// request's field flags and forecast day, and keeps the store fresh through
// scheduled refreshes.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrDocumentNotFound is returned when an area has no stored document.
var ErrDocumentNotFound = errors.New("weather document not found")

// Store key layout.
const (
	weatherKeyPrefix    = "weather:"
	KeyReportDatetime   = "weather_reportdatetime"
	KeyAlertPullTime    = "alert_pulldatetime"
	KeyDisasterPullTime = "disaster_pulldatetime"
)

// Document is the per-area weather record. The parallel arrays are indexed
// by forecast day offset.
type Document struct {
	AreaName          string   `json:"area_name"`
	ParentCode        string   `json:"parent_code"`
	Weather           []int    `json:"weather"`
	Temperature       []int    `json:"temperature"`
	PrecipitationProb []int    `json:"precipitation_prob"`
	Warnings          []string `json:"warnings"`
	DisasterInfo      []string `json:"disaster_info"`
}

// DocumentStore is the Query Server's view of the backing store.
type DocumentStore interface {
	// GetDocument loads the document for a 6-digit area code.
	GetDocument(ctx context.Context, areaCode string) (*Document, error)
	// GetDocuments loads several documents in one round trip; missing areas
	// yield nil entries.
	GetDocuments(ctx context.Context, areaCodes []string) (map[string]*Document, error)
	// GetPullTime reads one of the pulldatetime singletons.
	GetPullTime(ctx context.Context, key string) (time.Time, error)
	// SetPullTime writes one of the pulldatetime singletons.
	SetPullTime(ctx context.Context, key string, t time.Time) error
	Close() error
}

// RedisStore is the production DocumentStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the store.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging document store: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// GetDocument loads and decodes one area document.
func (r *RedisStore) GetDocument(ctx context.Context, areaCode string) (*Document, error) {
	val, err := r.client.Get(ctx, weatherKeyPrefix+areaCode).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", areaCode, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", areaCode, err)
	}
	return &doc, nil
}

// GetDocuments batches several loads through one pipeline.
func (r *RedisStore) GetDocuments(ctx context.Context, areaCodes []string) (map[string]*Document, error) {
	cmds := make([]*redis.StringCmd, len(areaCodes))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, area := range areaCodes {
			cmds[i] = pipe.Get(ctx, weatherKeyPrefix+area)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipelined document load: %w", err)
	}

	out := make(map[string]*Document, len(areaCodes))
	for i, area := range areaCodes {
		val, err := cmds[i].Result()
		if errors.Is(err, redis.Nil) {
			out[area] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading document %s: %w", area, err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(val), &doc); err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", area, err)
		}
		out[area] = &doc
	}
	return out, nil
}

// GetPullTime reads an ISO-8601 timestamp singleton. A missing key reads as
// the zero time, which callers treat as maximally stale.
func (r *RedisStore) GetPullTime(ctx context.Context, key string) (time.Time, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("loading %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s=%q: %w", key, val, err)
	}
	return t, nil
}

// SetPullTime writes an ISO-8601 timestamp singleton.
func (r *RedisStore) SetPullTime(ctx context.Context, key string, t time.Time) error {
	return r.client.Set(ctx, key, t.Format(time.RFC3339), 0).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
