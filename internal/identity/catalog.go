package identity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/stableguard/stableguard/internal/match"
	"github.com/stableguard/stableguard/internal/storage"
)

const candidatesKey = "candidates"

// Catalog serves the match candidate list. Mutations made through Service in
// this process invalidate it at once; changes made by other processes show
// up after the TTL.
type Catalog struct {
	horses storage.HorseStore
	cache  *cache.Cache
	ttl    time.Duration
}

// NewCatalog caches for ttl. A ttl of zero or less reads through every time.
func NewCatalog(horses storage.HorseStore, ttl time.Duration) *Catalog {
	// no cleanup interval: expired entries are dropped on read and no janitor
	// goroutine is started
	return &Catalog{horses: horses, cache: cache.New(ttl, 0), ttl: ttl}
}

// Candidates returns every horse in id order. Candidates without an
// embedding are included; the matcher skips them.
func (c *Catalog) Candidates(ctx context.Context) ([]match.Candidate, error) {
	if c.ttl > 0 {
		if v, ok := c.cache.Get(candidatesKey); ok {
			return v.([]match.Candidate), nil
		}
	}

	horses, err := c.horses.ListHorses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]match.Candidate, len(horses))
	for i := range horses {
		id := horses[i].ID
		out[i] = match.Candidate{ID: &id, Name: horses[i].Name, Embedding: horses[i].Embedding}
	}

	if c.ttl > 0 {
		c.cache.Set(candidatesKey, out, cache.DefaultExpiration)
	}
	return out, nil
}

func (c *Catalog) Invalidate() {
	c.cache.Delete(candidatesKey)
}
