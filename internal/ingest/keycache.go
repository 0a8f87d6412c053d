package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/emberhq/emberwatch/internal/models"
	"github.com/emberhq/emberwatch/internal/storage"
)

// ErrUnknownKey reports that no project owns the presented API key.
// Callers use it to tell a bad credential (401) from a store failure
// (500).
var ErrUnknownKey = errors.New("unknown project key")

// KeyResolver maps ingest API keys to projects with an expiring LRU in
// front of the store. Key rotations become visible when the cached
// entry ages out.
type KeyResolver struct {
	projects storage.ProjectRepository
	cache    *expirable.LRU[string, *models.Project]
}

// NewKeyResolver creates a resolver caching up to size keys for ttl.
func NewKeyResolver(projects storage.ProjectRepository, size int, ttl time.Duration) *KeyResolver {
	return &KeyResolver{
		projects: projects,
		cache:    expirable.NewLRU[string, *models.Project](size, nil, ttl),
	}
}

// Resolve returns the project owning apiKey. Unknown keys return
// ErrUnknownKey; only lookups that hit the store can fail otherwise.
func (r *KeyResolver) Resolve(ctx context.Context, apiKey string) (*models.Project, error) {
	if project, ok := r.cache.Get(apiKey); ok {
		return project, nil
	}

	project, err := r.projects.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("resolve project key: %w", err)
	}

	r.cache.Add(apiKey, project)
	return project, nil
}

// Invalidate drops a cached key, forcing the next lookup to the store.
func (r *KeyResolver) Invalidate(apiKey string) {
	r.cache.Remove(apiKey)
}
