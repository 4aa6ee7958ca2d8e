// Package resolver resolves the calling user's active credential for
// each bound source ahead of dispatch. Lookups within one request are
// cached with a short TTL; entries are keyed by org and user so
// nothing leaks across tenants.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

const defaultTTL = 30 * time.Second

type cacheKey struct {
	orgID    string
	userID   string
	sourceID string
}

type cacheEntry struct {
	cred    *models.Credential
	expires time.Time
}

// Resolver looks up active credentials with a TTL-bounded cache.
type Resolver struct {
	store store.CredentialStore
	ttl   time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

func New(s store.CredentialStore, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Resolver{
		store: s,
		ttl:   ttl,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// Resolve returns the user's active credential for the source, or nil
// when the source needs none. A source whose auth scheme requires a
// credential but has none bound fails as missing_credentials.
func (r *Resolver) Resolve(ctx context.Context, src *models.Source, orgID, userID string) (*models.Credential, error) {
	if src.AuthKind == models.AuthNone {
		return nil, nil
	}

	key := cacheKey{orgID: orgID, userID: userID, sourceID: src.ID}
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.cred, nil
	}
	r.mu.Unlock()

	cred, err := r.store.GetActiveCredential(ctx, orgID, userID, src.ID)
	if err != nil {
		if store.IsNotFound(err) {
			if src.AuthKind == models.AuthPassthrough {
				// Passthrough sources work unauthenticated.
				return nil, nil
			}
			return nil, broker.E(broker.KindMissingCredentials,
				"no credentials bound for %s; connect it in workspace settings", src.Name)
		}
		return nil, broker.Wrap(broker.KindInternal, err, "resolve credential for source %s", src.ID)
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{cred: cred, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return cred, nil
}

// Invalidate drops cached entries for a source, called on rotation
// and deactivation.
func (r *Resolver) Invalidate(sourceID string) {
	r.mu.Lock()
	for key := range r.cache {
		if key.sourceID == sourceID {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
	log.Debug().Str("source_id", sourceID).Msg("credential cache invalidated")
}
