package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainCredential "go-line-scheduler/src/domain/credential"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ActiveLister is the list read the probe set refreshes from. It is kept apart from Source so
// the two caches never share a lifetime.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]domainCredential.Credential, error)
}

// ProbeSet is a read-mostly snapshot of the credentials that can authenticate inbound requests.
type ProbeSet struct {
	source            ActiveLister
	defaultCredential *domainCredential.Credential
	Logger            *logger.Logger

	mu          sync.RWMutex
	snapshot    []domainCredential.Credential
	refreshedAt time.Time
}

func NewProbeSet(source ActiveLister, defaultCredential *domainCredential.Credential, loggerInstance *logger.Logger) *ProbeSet {
	return &ProbeSet{
		source:            source,
		defaultCredential: defaultCredential,
		Logger:            loggerInstance,
	}
}

// Refresh replaces the snapshot. On error the previous snapshot is kept.
func (p *ProbeSet) Refresh(ctx context.Context) error {
	active, err := p.source.ListActive(ctx)
	if err != nil {
		p.Logger.Warn("Probe set refresh failed, keeping previous snapshot", zap.Error(err))
		return fmt.Errorf("refresh probe set: %w", err)
	}
	next := make([]domainCredential.Credential, 0, len(active)+1)
	for _, c := range active {
		if c.IsActive && c.HasSecret() {
			next = append(next, c)
		}
	}
	if p.defaultCredential != nil && p.defaultCredential.HasSecret() {
		next = append(next, *p.defaultCredential)
	}

	p.mu.Lock()
	p.snapshot = next
	p.refreshedAt = time.Now()
	p.mu.Unlock()

	p.Logger.Debug("Probe set refreshed", zap.Int("credentials", len(next)))
	return nil
}

// Snapshot returns a copy safe to iterate without holding the lock.
func (p *ProbeSet) Snapshot() []domainCredential.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domainCredential.Credential, len(p.snapshot))
	copy(out, p.snapshot)
	return out
}

func (p *ProbeSet) RefreshedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshedAt
}

// Register schedules periodic refreshes on c.
func (p *ProbeSet) Register(c *cron.Cron, interval time.Duration) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.Refresh(ctx)
	})
}
