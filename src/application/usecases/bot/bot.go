package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CacheInvalidator drops a cached credential so the next resolve reads storage.
type CacheInvalidator interface {
	Invalidate(ref string)
}

// ProbeRefresher reloads the signature probing snapshot.
type ProbeRefresher interface {
	Refresh(ctx context.Context) error
}

type CredentialStore interface {
	Create(ctx context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error)
}

type DestinationLister interface {
	ListByCredential(ctx context.Context, credentialID string) ([]domainCredential.ChatDestination, error)
}

// AccountClient is the account-level part of the messaging API.
type AccountClient interface {
	GetBotInfo(ctx context.Context) (*line.BotInfo, error)
	GetQuota(ctx context.Context) (*line.Quota, error)
	GetQuotaConsumption(ctx context.Context) (int64, error)
}

// AccountResolver finds a stored, active credential and a client bound to it.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, id string) (*domainCredential.Credential, AccountClient, error)
}

type AccountResolverFunc func(ctx context.Context, id string) (*domainCredential.Credential, AccountClient, error)

func (f AccountResolverFunc) ResolveAccount(ctx context.Context, id string) (*domainCredential.Credential, AccountClient, error) {
	return f(ctx, id)
}

// AccountClientFactory builds a client for a token that is not stored yet.
type AccountClientFactory func(accessToken string) AccountClient

type CreateRequest struct {
	ID            string
	Name          string
	BasicID       string
	AccessToken   string
	ChannelSecret string
}

// QuotaReport is a credential's monthly push budget and how much of it is used.
type QuotaReport struct {
	BotID       string
	BotName     string
	QuotaType   string
	QuotaLimit  *int64
	TotalUsage  int64
	Remaining   *int64
	PercentUsed int
}

// IBotUseCase defines the admin operations on credentials
type IBotUseCase interface {
	Create(ctx context.Context, request *CreateRequest) (*domainCredential.Credential, error)
	Verify(ctx context.Context, accessToken string) (*line.BotInfo, error)
	Quota(ctx context.Context, id string) (*QuotaReport, error)
	Destinations(ctx context.Context, id string) ([]domainCredential.ChatDestination, error)
	OnCredentialChanged(ctx context.Context, id string) error
}

type BotUseCase struct {
	cache        CacheInvalidator
	probes       ProbeRefresher
	store        CredentialStore
	destinations DestinationLister
	accounts     AccountResolver
	newClient    AccountClientFactory
	Logger       *logger.Logger
}

func NewBotUseCase(
	cache CacheInvalidator,
	probes ProbeRefresher,
	store CredentialStore,
	destinations DestinationLister,
	accounts AccountResolver,
	newClient AccountClientFactory,
	loggerInstance *logger.Logger,
) IBotUseCase {
	return &BotUseCase{
		cache:        cache,
		probes:       probes,
		store:        store,
		destinations: destinations,
		accounts:     accounts,
		newClient:    newClient,
		Logger:       loggerInstance,
	}
}

// Create stores a new active credential and makes its secret available to the multiplexed webhook.
func (b *BotUseCase) Create(ctx context.Context, request *CreateRequest) (*domainCredential.Credential, error) {
	c := &domainCredential.Credential{
		ID:            strings.TrimSpace(request.ID),
		Name:          strings.TrimSpace(request.Name),
		BasicID:       strings.TrimSpace(request.BasicID),
		AccessToken:   strings.TrimSpace(request.AccessToken),
		ChannelSecret: strings.TrimSpace(request.ChannelSecret),
		IsActive:      true,
	}
	if c.Name == "" || c.AccessToken == "" {
		return nil, domainErrors.NewAppError(errors.New("name and channel access token are required"), domainErrors.ValidationError)
	}
	if c.ID == domainCredential.DefaultID {
		return nil, domainErrors.NewAppError(fmt.Errorf("id %q is reserved", c.ID), domainErrors.ValidationError)
	}
	if c.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("generate credential id: %w", err)
		}
		c.ID = id.String()
	}

	created, err := b.store.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	b.Logger.Info("Credential created", zap.String("credentialID", created.ID), zap.Bool("hasSecret", created.HasSecret()))

	// the row is stored either way; the periodic refresh picks it up
	if err := b.OnCredentialChanged(ctx, created.ID); err != nil {
		b.Logger.Warn("Webhook secrets not refreshed after create", zap.String("credentialID", created.ID), zap.Error(err))
	}
	return created, nil
}

// Verify checks an access token against the platform and returns the channel's profile.
func (b *BotUseCase) Verify(ctx context.Context, accessToken string) (*line.BotInfo, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, domainErrors.NewAppError(errors.New("channel access token is required"), domainErrors.ValidationError)
	}
	info, err := b.newClient(accessToken).GetBotInfo(ctx)
	if err != nil {
		b.Logger.Warn("Access token verification failed", zap.Error(err))
		return nil, domainErrors.NewAppError(fmt.Errorf("unable to fetch bot info, check the token: %w", err), domainErrors.ValidationError)
	}
	return info, nil
}

// Quota fetches the limit and the consumption concurrently.
func (b *BotUseCase) Quota(ctx context.Context, id string) (*QuotaReport, error) {
	cred, client, err := b.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var quota *line.Quota
	var usage int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quota, err = client.GetQuota(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		usage, err = client.GetQuotaConsumption(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		b.Logger.Error("Error fetching quota", zap.String("credentialID", cred.ID), zap.Error(err))
		return nil, fmt.Errorf("fetch quota for %s: %w", cred.ID, err)
	}

	report := &QuotaReport{
		BotID:      cred.ID,
		BotName:    cred.DisplayName(),
		QuotaType:  quota.Type,
		QuotaLimit: quota.Limit,
		TotalUsage: usage,
	}
	if quota.Limit != nil {
		remaining := *quota.Limit - usage
		report.Remaining = &remaining
		if *quota.Limit > 0 {
			report.PercentUsed = int(math.Round(float64(usage) * 100 / float64(*quota.Limit)))
		}
	}
	return report, nil
}

func (b *BotUseCase) Destinations(ctx context.Context, id string) ([]domainCredential.ChatDestination, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domainErrors.NewAppErrorWithType(domainErrors.ValidationError)
	}
	return b.destinations.ListByCredential(ctx, id)
}

func (b *BotUseCase) resolve(ctx context.Context, id string) (*domainCredential.Credential, AccountClient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, domainErrors.NewAppErrorWithType(domainErrors.ValidationError)
	}
	cred, client, err := b.accounts.ResolveAccount(ctx, id)
	if err != nil {
		if domainErrors.IsType(err, domainErrors.Configuration) {
			return nil, nil, domainErrors.NewAppError(fmt.Errorf("bot %s not found or inactive", id), domainErrors.NotFound)
		}
		return nil, nil, err
	}
	return cred, client, nil
}

// OnCredentialChanged invalidates the cached credential and refreshes the probe set. The
// invalidation always happens; a refresh failure is returned after it.
func (b *BotUseCase) OnCredentialChanged(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domainErrors.NewAppErrorWithType(domainErrors.ValidationError)
	}
	b.cache.Invalidate(id)
	b.Logger.Info("Credential invalidated", zap.String("credentialID", id))

	if err := b.probes.Refresh(ctx); err != nil {
		b.Logger.Error("Error refreshing probe set after credential change", zap.String("credentialID", id), zap.Error(err))
		return err
	}
	return nil
}
