package auth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/cache"
	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
)

type exchangeCall struct {
	tokenURL string
	req      tenant.TokenRequest
}

type fakeTenantClient struct {
	mu        sync.Mutex
	exchanges []exchangeCall
	token     *domainoauth.TokenResponse
	exchErr   error
	probe     *tenant.ProbeResponse
	probeErr  error
}

func (f *fakeTenantClient) ExchangeCode(_ context.Context, tokenURL string, req tenant.TokenRequest) (*domainoauth.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, exchangeCall{tokenURL: tokenURL, req: req})
	if f.exchErr != nil {
		return nil, f.exchErr
	}
	if f.token == nil {
		return nil, errors.New("no token configured")
	}
	out := *f.token
	return &out, nil
}

func (f *fakeTenantClient) FindMissing(_ context.Context, tenantURL, _ string) (*tenant.ProbeResponse, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	out := *f.probe
	out.URL = tenant.NormalizeBaseURL(tenantURL) + "find-missing"
	return &out, nil
}

func (f *fakeTenantClient) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exchanges)
}

type oauthTestHarness struct {
	now     time.Time
	client  *fakeTenantClient
	states  *cache.KVStateStore
	engine  *Engine
	service OAuthService
}

func newOAuthTestHarness(t *testing.T) *oauthTestHarness {
	t.Helper()
	h := &oauthTestHarness{
		now: time.UnixMilli(1_750_000_000_000),
		client: &fakeTenantClient{
			token: &domainoauth.TokenResponse{AccessToken: "tenant-access", Email: "user@example.com"},
		},
	}
	clock := func() time.Time { return h.now }
	kv := cache.NewMemoryKV()
	t.Cleanup(kv.Stop)
	h.states = cache.NewKVStateStore(kv, zap.NewNop(), cache.WithClock(clock))
	h.engine = NewEngine(EngineConfig{}, h.client, zap.NewNop(), WithClock(clock))
	h.service = NewOAuthService(h.engine, h.states, ServiceConfig{}, zap.NewNop())
	return h
}

// deterministicRandom yields a 32-byte zero verifier followed by an all-0xff state.
func deterministicRandom() *bytes.Reader {
	buf := append(make([]byte, 32), bytes.Repeat([]byte{0xff}, 8)...)
	return bytes.NewReader(buf)
}
