package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/cache"
	"github.com/wellgone/augment-token-manager-worker/internal/adapter/portal"
	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
	"github.com/wellgone/augment-token-manager-worker/internal/service/validator"
)

type fakeValidator struct {
	byToken map[string]*domain.TokenValidationResult
	errs    map[string]error
	batches [][]validator.TokenPair
}

func (f *fakeValidator) ValidateToken(_ context.Context, token, _ string) (*domain.TokenValidationResult, error) {
	if err := f.errs[token]; err != nil {
		return nil, err
	}
	if res, ok := f.byToken[token]; ok {
		out := *res
		return &out, nil
	}
	res := validator.Classify(200, "{}")
	return &res, nil
}

func (f *fakeValidator) ValidateTokensBatch(ctx context.Context, pairs []validator.TokenPair, _ validator.BatchOptions) []validator.BatchResult {
	f.batches = append(f.batches, pairs)
	out := make([]validator.BatchResult, len(pairs))
	for i, p := range pairs {
		res, err := f.ValidateToken(ctx, p.Token, p.TenantURL)
		out[i] = validator.BatchResult{Result: res, Err: err}
	}
	return out
}

type tokensHarness struct {
	now       time.Time
	repo      repository.TokenRepository
	validator *fakeValidator
	service   *Service
}

func newTokensHarness(t *testing.T, portalClient PortalClient) *tokensHarness {
	t.Helper()
	kv := cache.NewMemoryKV()
	t.Cleanup(kv.Stop)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if portalClient == nil {
		portalClient = portal.NewClient("http://127.0.0.1:0", nil)
	}

	h := &tokensHarness{
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		repo:      repository.NewKVTokenRepo(kv),
		validator: &fakeValidator{byToken: map[string]*domain.TokenValidationResult{}, errs: map[string]error{}},
	}
	h.service = NewService(h.repo, h.validator, portalClient, node, Config{Concurrency: 2}, zap.NewNop())
	h.service.SetClock(func() time.Time { return h.now })
	return h
}

func (h *tokensHarness) create(t *testing.T, in domain.CreateTokenInput) *domain.TokenRecord {
	t.Helper()
	record, err := h.service.Create(context.Background(), in, "user-admin")
	require.NoError(t, err)
	return record
}

func TestService_CreateSetsInitialState(t *testing.T) {
	h := newTokensHarness(t, nil)

	record := h.create(t, domain.CreateTokenInput{AccessToken: " tok ", TenantURL: "https://t/"})
	require.NotEmpty(t, record.ID)
	require.Equal(t, "tok", record.AccessToken)
	require.Equal(t, "{}", record.PortalInfo)
	require.Equal(t, "2026-03-01T12:00:00.000Z", record.CreatedAt)

	status, ok := record.ParseBanStatus()
	require.True(t, ok)
	require.Equal(t, domain.BanNormal, status.Status)
	require.Equal(t, domain.ReasonInitial, status.Reason)

	_, err := h.service.Create(context.Background(), domain.CreateTokenInput{}, "u")
	require.ErrorIs(t, err, domain.ErrInvalidTokenInput)
}

func TestService_ValidatePreservesPortalInfo(t *testing.T) {
	h := newTokensHarness(t, nil)
	ctx := context.Background()

	record := h.create(t, domain.CreateTokenInput{AccessToken: "banned-tok", TenantURL: "https://t/"})
	record.PortalInfo = `{"credits_balance":7,"is_active":true,"expiry_date":"2026-04-01"}`
	require.NoError(t, h.repo.Save(ctx, *record))

	res := validator.Classify(403, "forbidden")
	h.validator.byToken["banned-tok"] = &res
	h.now = h.now.Add(time.Hour)

	outcome, err := h.service.ValidateTokenStatus(ctx, record.ID)
	require.NoError(t, err)
	require.False(t, outcome.IsValid)
	require.Equal(t, "FORBIDDEN", outcome.Status)

	stored, err := h.repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, record.PortalInfo, stored.PortalInfo)
	require.Equal(t, "2026-03-01T13:00:00.000Z", stored.UpdatedAt)
	require.Equal(t, record.AccessToken, stored.AccessToken)

	status, ok := stored.ParseBanStatus()
	require.True(t, ok)
	require.Equal(t, domain.BanBanned, status.Status)
	require.Equal(t, "FORBIDDEN", status.ValidationStatus)
	require.Equal(t, 403, status.ResponseCode)
	require.Equal(t, "Access forbidden - account may be banned", status.Reason)
}

func TestService_ValidateBanStateMapping(t *testing.T) {
	cases := []struct {
		code int
		body string
		want domain.BanState
	}{
		{200, "{}", domain.BanNormal},
		{429, "", domain.BanNormal},
		{503, "", domain.BanInvalid},
		{200, "invalid token", domain.BanInvalid},
		{401, "", domain.BanBanned},
		{200, "suspended", domain.BanBanned},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d %s", tc.code, tc.body), func(t *testing.T) {
			h := newTokensHarness(t, nil)
			record := h.create(t, domain.CreateTokenInput{AccessToken: "tok", TenantURL: "https://t/"})
			res := validator.Classify(tc.code, tc.body)
			h.validator.byToken["tok"] = &res

			outcome, err := h.service.ValidateTokenStatus(context.Background(), record.ID)
			require.NoError(t, err)
			status, ok := outcome.Token.ParseBanStatus()
			require.True(t, ok)
			require.Equal(t, tc.want, status.Status)
		})
	}
}

func TestService_ValidateTransportErrorLeavesRecord(t *testing.T) {
	h := newTokensHarness(t, nil)
	ctx := context.Background()

	record := h.create(t, domain.CreateTokenInput{AccessToken: "tok", TenantURL: "https://t/"})
	h.validator.errs["tok"] = validator.ErrRequestTimeout
	h.now = h.now.Add(time.Minute)

	outcome, err := h.service.ValidateTokenStatus(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, "ERROR", outcome.Status)
	require.Equal(t, "request timeout", outcome.Message)

	stored, err := h.repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, *record, stored)
}

func TestService_ValidateUnknownID(t *testing.T) {
	h := newTokensHarness(t, nil)
	_, err := h.service.ValidateTokenStatus(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestService_ValidateTokensBatchIndexAligned(t *testing.T) {
	h := newTokensHarness(t, nil)
	ctx := context.Background()

	a := h.create(t, domain.CreateTokenInput{AccessToken: "tok-a", TenantURL: "https://t/"})
	b := h.create(t, domain.CreateTokenInput{AccessToken: "tok-b", TenantURL: "https://t/"})
	c := h.create(t, domain.CreateTokenInput{AccessToken: "tok-c"})
	d := h.create(t, domain.CreateTokenInput{AccessToken: "tok-d", TenantURL: "https://t/"})

	banned := validator.Classify(401, "")
	h.validator.byToken["tok-b"] = &banned
	h.validator.errs["tok-d"] = errors.New("network error: reset")

	items, err := h.service.ValidateTokensBatch(ctx, []string{a.ID, "ghost", b.ID, c.ID, d.ID})
	require.NoError(t, err)
	require.Len(t, items, 5)

	require.Equal(t, a.ID, items[0].TokenID)
	require.True(t, items[0].IsValid)
	require.Equal(t, "ACTIVE", items[0].Status)

	require.Equal(t, "ghost", items[1].TokenID)
	require.Equal(t, "Token not found", items[1].Error)
	require.Nil(t, items[1].Token)

	require.Equal(t, b.ID, items[2].TokenID)
	require.False(t, items[2].IsValid)
	require.Equal(t, "UNAUTHORIZED", items[2].Status)

	require.Equal(t, c.ID, items[3].TokenID)
	require.NotEmpty(t, items[3].Error)

	require.Equal(t, d.ID, items[4].TokenID)
	require.Equal(t, "network error: reset", items[4].Error)
	require.Equal(t, "ERROR", items[4].Status)

	// only records with both fields are probed
	require.Len(t, h.validator.batches, 1)
	require.Len(t, h.validator.batches[0], 3)

	stored, err := h.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	status, _ := stored.ParseBanStatus()
	require.Equal(t, domain.BanBanned, status.Status)
}

func TestService_ValidateTokensBatchLimits(t *testing.T) {
	h := newTokensHarness(t, nil)
	_, err := h.service.ValidateTokensBatch(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = h.service.ValidateTokensBatch(context.Background(), make([]string, MaxBatchValidate+1))
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func newFakePortal(t *testing.T, fail bool) *portal.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/customer_from_link", func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"customer":{"id":"cus_9","ledger_pricing_units":[{"id":"pu_1"}]}}`))
	})
	mux.HandleFunc("/api/v1/customers/cus_9/ledger_summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"credits_balance":"550.00","credit_blocks":[{"is_active":true,"expiry_date":"2026-09-30T00:00:00+00:00"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return portal.NewClient(srv.URL, srv.Client())
}

func TestService_RefreshUpdatesPortalInfoOnly(t *testing.T) {
	h := newTokensHarness(t, newFakePortal(t, false))
	ctx := context.Background()

	record := h.create(t, domain.CreateTokenInput{
		AccessToken: "tok",
		TenantURL:   "https://t/",
		PortalURL:   "https://portal.withorb.com/view?token=link-1",
	})
	h.now = h.now.Add(2 * time.Hour)

	refreshed, err := h.service.RefreshTokenInfo(ctx, record.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"credits_balance":550,"is_active":true,"expiry_date":"2026-09-30T00:00:00+00:00"}`, refreshed.PortalInfo)
	require.Equal(t, record.BanStatus, refreshed.BanStatus)
	require.Equal(t, "2026-03-01T14:00:00.000Z", refreshed.UpdatedAt)

	stored, err := h.repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, *refreshed, stored)
}

func TestService_RefreshFailureStillBumpsUpdatedAt(t *testing.T) {
	h := newTokensHarness(t, newFakePortal(t, true))
	ctx := context.Background()

	record := h.create(t, domain.CreateTokenInput{
		AccessToken: "tok",
		PortalURL:   "https://portal.withorb.com/view?token=link-1",
	})
	noPortal := h.create(t, domain.CreateTokenInput{AccessToken: "tok-2"})
	h.now = h.now.Add(time.Minute)

	for _, id := range []string{record.ID, noPortal.ID} {
		refreshed, err := h.service.RefreshTokenInfo(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "{}", refreshed.PortalInfo)
		require.Equal(t, "2026-03-01T12:01:00.000Z", refreshed.UpdatedAt)

		stored, err := h.repo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, refreshed.UpdatedAt, stored.UpdatedAt)
	}
}

func TestService_UpdateListDeleteStats(t *testing.T) {
	h := newTokensHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		r := h.create(t, domain.CreateTokenInput{AccessToken: fmt.Sprintf("tok-%02d", i), TenantURL: "https://t/"})
		ids = append(ids, r.ID)
	}

	page, err := h.service.List(ctx, ListQuery{Page: 2, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 12, page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Tokens, 5)
	require.Equal(t, "tok-06", page.Tokens[0].AccessToken)

	note := "team pool"
	updated, err := h.service.Update(ctx, ids[0], domain.UpdateTokenInput{EmailNote: &note})
	require.NoError(t, err)
	require.Equal(t, "team pool", updated.EmailNote)
	require.Equal(t, "tok-00", updated.AccessToken)

	found, err := h.service.List(ctx, ListQuery{Search: "TEAM"})
	require.NoError(t, err)
	require.Equal(t, 1, found.Total)
	require.Equal(t, ids[0], found.Tokens[0].ID)

	mine, err := h.service.List(ctx, ListQuery{CreatedBy: "someone-else"})
	require.NoError(t, err)
	require.Zero(t, mine.Total)
	require.NotNil(t, mine.Tokens)

	banned := validator.Classify(403, "")
	h.validator.byToken["tok-01"] = &banned
	_, err = h.service.ValidateTokenStatus(ctx, ids[1])
	require.NoError(t, err)

	require.NoError(t, h.service.Delete(ctx, ids[2]))
	require.ErrorIs(t, h.service.Delete(ctx, ids[2]), domain.ErrTokenNotFound)

	stats, err := h.service.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 11, Normal: 10, Banned: 1}, *stats)
}

func TestService_BatchImport(t *testing.T) {
	h := newTokensHarness(t, nil)
	ctx := context.Background()

	res, err := h.service.BatchImport(ctx, []domain.CreateTokenInput{
		{AccessToken: "a"},
		{AccessToken: "  "},
		{AccessToken: "b", TenantURL: "https://t/"},
	}, "user-admin")
	require.NoError(t, err)
	require.Len(t, res.Success, 2)
	require.Len(t, res.Failed, 1)
	require.Contains(t, res.Failed[0].Error, "access_token is required")

	_, err = h.service.BatchImport(ctx, make([]domain.CreateTokenInput, MaxBatchImport+1), "u")
	require.ErrorIs(t, err, ErrBatchTooLarge)
	_, err = h.service.BatchImport(ctx, nil, "u")
	require.ErrorIs(t, err, ErrEmptyBatch)
}
