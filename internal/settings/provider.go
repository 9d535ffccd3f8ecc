// Package settings supplies processor and channel credentials by key from
// the settings table, behind a short-lived in-process cache.
package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("setting not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// PGStore reads settings rows from postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Provider caches store lookups for a fixed TTL. Negative results are not
// cached, so an operator fixing a missing credential takes effect on the
// next request.
type Provider struct {
	store Store
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]entry
	now   func() time.Time
}

func NewProvider(store Store, ttl time.Duration) *Provider {
	return &Provider{
		store: store,
		ttl:   ttl,
		cache: make(map[string]entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	e, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && p.now().Before(e.expiresAt) {
		return e.value, nil
	}

	value, err := p.store.Get(ctx, key)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = entry{value: value, expiresAt: p.now().Add(p.ttl)}
	p.mu.Unlock()
	return value, nil
}
