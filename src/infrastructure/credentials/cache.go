package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 5 * time.Minute
	// fetchTimeout bounds a shared load, which does not follow any one caller's context.
	fetchTimeout = 10 * time.Second
)

// Source is the point lookup the cache refetches from on a miss.
type Source interface {
	GetByID(ctx context.Context, id string) (*domainCredential.Credential, error)
}

// ClientFactory builds a send client bound to one credential's access token.
type ClientFactory func(c domainCredential.Credential) *line.Client

// Resolved is what a successful Resolve hands out: the credential as fetched and its client.
type Resolved struct {
	Credential domainCredential.Credential
	Client     *line.Client
}

type entry struct {
	resolved  *Resolved
	createdAt time.Time
}

// Cache maps credential ids to ready-to-use clients for at most ttl. Concurrent misses for the
// same id share one fetch; Invalidate forces the next Resolve to refetch.
type Cache struct {
	source            Source
	defaultCredential *domainCredential.Credential
	ttl               time.Duration
	newClient         ClientFactory
	Logger            *logger.Logger

	mu          sync.RWMutex
	entries     map[string]entry
	generations map[string]uint64
	group       singleflight.Group

	fetchTimeout time.Duration
	now          func() time.Time
}

// NewCache builds a cache. defaultCredential may be nil, in which case messages without a
// credential reference cannot be resolved.
func NewCache(source Source, defaultCredential *domainCredential.Credential, ttl time.Duration, newClient ClientFactory, loggerInstance *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		source:            source,
		defaultCredential: defaultCredential,
		ttl:               ttl,
		newClient:         newClient,
		Logger:            loggerInstance,
		entries:           make(map[string]entry),
		generations:       make(map[string]uint64),
		fetchTimeout:      fetchTimeout,
		now:               time.Now,
	}
}

func cacheKey(ref string) string {
	if ref == "" {
		return domainCredential.DefaultID
	}
	return ref
}

// Resolve returns the client for ref, or for the default credential when ref is empty.
// It fails closed: an expired entry is never served when the refetch fails.
func (c *Cache) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	key := cacheKey(ref)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.createdAt) < c.ttl {
		return e.resolved, nil
	}

	// The load outlives a cancelled caller so the others sharing it still get a result.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.load(lctx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.Logger.Debug("Credential fetch shared with concurrent resolve", zap.String("credentialID", key))
		}
		return res.Val.(*Resolved), nil
	}
}

func (c *Cache) load(ctx context.Context, key string) (*Resolved, error) {
	c.mu.RLock()
	gen := c.generations[key]
	c.mu.RUnlock()

	cred, err := c.fetch(ctx, key)
	if err != nil {
		c.mu.Lock()
		if c.generations[key] == gen {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, err
	}

	resolved := &Resolved{Credential: *cred, Client: c.newClient(*cred)}

	c.mu.Lock()
	// An Invalidate that raced this fetch wins; the result is still handed to the waiting callers.
	if c.generations[key] == gen {
		c.entries[key] = entry{resolved: resolved, createdAt: c.now()}
	}
	c.mu.Unlock()

	c.Logger.Debug("Credential client built", zap.String("credentialID", key))
	return resolved, nil
}

func (c *Cache) fetch(ctx context.Context, key string) (*domainCredential.Credential, error) {
	if key == domainCredential.DefaultID {
		if c.defaultCredential == nil || !c.defaultCredential.Usable() {
			c.Logger.Error("No default LINE credential configured")
			return nil, domainErrors.NewAppError(
				fmt.Errorf("no default credential configured"), domainErrors.Configuration)
		}
		cred := *c.defaultCredential
		return &cred, nil
	}

	cred, err := c.source.GetByID(ctx, key)
	if err != nil {
		if domainErrors.IsType(err, domainErrors.NotFound) {
			return nil, domainErrors.NewAppError(
				fmt.Errorf("credential %s not found", key), domainErrors.Configuration)
		}
		return nil, fmt.Errorf("fetch credential %s: %w", key, err)
	}
	if !cred.IsActive {
		return nil, domainErrors.NewAppError(
			fmt.Errorf("credential %s is inactive", key), domainErrors.Configuration)
	}
	if !cred.Usable() {
		return nil, domainErrors.NewAppError(
			fmt.Errorf("credential %s has no access token", key), domainErrors.Configuration)
	}
	return cred, nil
}

// Invalidate drops the cached client for ref so the next Resolve refetches.
func (c *Cache) Invalidate(ref string) {
	key := cacheKey(ref)
	c.mu.Lock()
	c.generations[key]++
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
	c.Logger.Info("Credential cache invalidated", zap.String("credentialID", key))
}
