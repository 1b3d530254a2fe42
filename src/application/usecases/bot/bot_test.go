package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct{ invalidated []string }

func (r *recordingCache) Invalidate(ref string) { r.invalidated = append(r.invalidated, ref) }

type stubProbes struct {
	calls int
	err   error
}

func (s *stubProbes) Refresh(context.Context) error {
	s.calls++
	return s.err
}

type mockStore struct {
	createFn func(ctx context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error)
}

func (m *mockStore) Create(ctx context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error) {
	return m.createFn(ctx, c)
}

type mockDestinations struct {
	listFn func(ctx context.Context, credentialID string) ([]domainCredential.ChatDestination, error)
}

func (m *mockDestinations) ListByCredential(ctx context.Context, credentialID string) ([]domainCredential.ChatDestination, error) {
	return m.listFn(ctx, credentialID)
}

type fakeAccount struct {
	mu       sync.Mutex
	info     *line.BotInfo
	quota    *line.Quota
	usage    int64
	err      error
	usageErr error
	calls    []string
}

func (f *fakeAccount) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAccount) GetBotInfo(context.Context) (*line.BotInfo, error) {
	f.record("info")
	return f.info, f.err
}

func (f *fakeAccount) GetQuota(context.Context) (*line.Quota, error) {
	f.record("quota")
	return f.quota, f.err
}

func (f *fakeAccount) GetQuotaConsumption(context.Context) (int64, error) {
	f.record("consumption")
	if f.usageErr != nil {
		return 0, f.usageErr
	}
	return f.usage, f.err
}

type fixture struct {
	cache        *recordingCache
	probes       *stubProbes
	store        *mockStore
	destinations *mockDestinations
	account      *fakeAccount
	tokens       []string
	resolveErr   error
}

func newFixture() *fixture {
	return &fixture{
		cache:  &recordingCache{},
		probes: &stubProbes{},
		store: &mockStore{createFn: func(_ context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error) {
			return c, nil
		}},
		destinations: &mockDestinations{},
		account:      &fakeAccount{},
	}
}

func (f *fixture) useCase() IBotUseCase {
	resolver := AccountResolverFunc(func(_ context.Context, id string) (*domainCredential.Credential, AccountClient, error) {
		if f.resolveErr != nil {
			return nil, nil, f.resolveErr
		}
		return &domainCredential.Credential{ID: id, Name: "Shop", IsActive: true}, f.account, nil
	})
	factory := func(token string) AccountClient {
		f.tokens = append(f.tokens, token)
		return f.account
	}
	return NewBotUseCase(f.cache, f.probes, f.store, f.destinations, resolver, factory, logger.NewNopLogger())
}

func int64Ptr(v int64) *int64 { return &v }

func TestOnCredentialChanged(t *testing.T) {
	f := newFixture()

	assert.NoError(t, f.useCase().OnCredentialChanged(context.Background(), " bot-a "))
	assert.Equal(t, []string{"bot-a"}, f.cache.invalidated)
	assert.Equal(t, 1, f.probes.calls)
}

func TestOnCredentialChanged_RefreshFailureStillInvalidates(t *testing.T) {
	f := newFixture()
	f.probes.err = errors.New("db down")

	assert.Error(t, f.useCase().OnCredentialChanged(context.Background(), "bot-a"))
	assert.Equal(t, []string{"bot-a"}, f.cache.invalidated)
}

func TestOnCredentialChanged_BlankID(t *testing.T) {
	f := newFixture()
	err := f.useCase().OnCredentialChanged(context.Background(), "")

	assert.True(t, domainErrors.IsType(err, domainErrors.ValidationError))
	assert.Empty(t, f.cache.invalidated)
	assert.Zero(t, f.probes.calls)
}

func TestCreate_GeneratesIDAndRefreshesWebhookSecrets(t *testing.T) {
	f := newFixture()
	var stored *domainCredential.Credential
	f.store.createFn = func(_ context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error) {
		stored = c
		return c, nil
	}

	created, err := f.useCase().Create(context.Background(), &CreateRequest{
		Name: " Shop ", AccessToken: " tok ", ChannelSecret: "sec",
	})
	require.NoError(t, err)

	assert.Len(t, created.ID, 36)
	assert.Equal(t, "Shop", stored.Name)
	assert.Equal(t, "tok", stored.AccessToken)
	assert.True(t, stored.IsActive)
	assert.Equal(t, []string{created.ID}, f.cache.invalidated)
	assert.Equal(t, 1, f.probes.calls)
}

func TestCreate_KeepsExplicitID(t *testing.T) {
	f := newFixture()

	created, err := f.useCase().Create(context.Background(), &CreateRequest{ID: "shop", Name: "Shop", AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "shop", created.ID)
}

func TestCreate_Validation(t *testing.T) {
	cases := map[string]*CreateRequest{
		"missing name":  {AccessToken: "tok"},
		"missing token": {Name: "Shop"},
		"reserved id":   {ID: domainCredential.DefaultID, Name: "Shop", AccessToken: "tok"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.store.createFn = func(context.Context, *domainCredential.Credential) (*domainCredential.Credential, error) {
				t.Fatal("store must not be called")
				return nil, nil
			}
			_, err := f.useCase().Create(context.Background(), req)
			assert.True(t, domainErrors.IsType(err, domainErrors.ValidationError))
		})
	}
}

func TestCreate_DuplicatePassesThrough(t *testing.T) {
	f := newFixture()
	f.store.createFn = func(context.Context, *domainCredential.Credential) (*domainCredential.Credential, error) {
		return nil, domainErrors.NewAppErrorWithType(domainErrors.ResourceAlreadyExists)
	}

	_, err := f.useCase().Create(context.Background(), &CreateRequest{ID: "shop", Name: "Shop", AccessToken: "tok"})
	assert.True(t, domainErrors.IsType(err, domainErrors.ResourceAlreadyExists))
	assert.Zero(t, f.probes.calls)
}

func TestCreate_RefreshFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.probes.err = errors.New("db down")

	created, err := f.useCase().Create(context.Background(), &CreateRequest{Name: "Shop", AccessToken: "tok"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestVerify(t *testing.T) {
	f := newFixture()
	f.account.info = &line.BotInfo{UserID: "Ubot", BasicID: "@shop", DisplayName: "Shop"}

	info, err := f.useCase().Verify(context.Background(), " tok ")
	require.NoError(t, err)
	assert.Equal(t, "@shop", info.BasicID)
	assert.Equal(t, []string{"tok"}, f.tokens)
}

func TestVerify_RejectedToken(t *testing.T) {
	f := newFixture()
	f.account.err = errors.New("401 Authentication failed")

	_, err := f.useCase().Verify(context.Background(), "bad")
	assert.True(t, domainErrors.IsType(err, domainErrors.ValidationError))
	assert.Contains(t, err.Error(), "401")
}

func TestVerify_BlankToken(t *testing.T) {
	f := newFixture()

	_, err := f.useCase().Verify(context.Background(), "  ")
	assert.True(t, domainErrors.IsType(err, domainErrors.ValidationError))
	assert.Empty(t, f.tokens)
}

func TestQuota_Limited(t *testing.T) {
	f := newFixture()
	f.account.quota = &line.Quota{Type: "limited", Limit: int64Ptr(200)}
	f.account.usage = 50

	report, err := f.useCase().Quota(context.Background(), "shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", report.BotID)
	assert.Equal(t, "Shop", report.BotName)
	assert.Equal(t, int64(200), *report.QuotaLimit)
	assert.Equal(t, int64(150), *report.Remaining)
	assert.Equal(t, 25, report.PercentUsed)
	assert.ElementsMatch(t, []string{"quota", "consumption"}, f.account.calls)
}

func TestQuota_Unlimited(t *testing.T) {
	f := newFixture()
	f.account.quota = &line.Quota{Type: "none"}
	f.account.usage = 1234

	report, err := f.useCase().Quota(context.Background(), "shop")
	require.NoError(t, err)

	assert.Nil(t, report.QuotaLimit)
	assert.Nil(t, report.Remaining)
	assert.Zero(t, report.PercentUsed)
	assert.Equal(t, int64(1234), report.TotalUsage)
}

func TestQuota_UnknownBotIsNotFound(t *testing.T) {
	f := newFixture()
	f.resolveErr = domainErrors.NewAppError(errors.New("credential ghost not found"), domainErrors.Configuration)

	_, err := f.useCase().Quota(context.Background(), "ghost")
	assert.True(t, domainErrors.IsType(err, domainErrors.NotFound))
	assert.Empty(t, f.account.calls)
}

func TestQuota_UpstreamFailure(t *testing.T) {
	f := newFixture()
	f.account.quota = &line.Quota{Type: "limited", Limit: int64Ptr(200)}
	f.account.usageErr = errors.New("500 internal")

	_, err := f.useCase().Quota(context.Background(), "shop")
	assert.ErrorContains(t, err, "500 internal")
}

func TestDestinations(t *testing.T) {
	f := newFixture()
	f.destinations.listFn = func(_ context.Context, credentialID string) ([]domainCredential.ChatDestination, error) {
		assert.Equal(t, "shop", credentialID)
		return []domainCredential.ChatDestination{{DestinationID: "C1", Type: domainCredential.DestinationGroup}}, nil
	}

	list, err := f.useCase().Destinations(context.Background(), " shop ")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
