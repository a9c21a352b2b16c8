// Package tokens owns the token record lifecycle: CRUD over the key-value
// repository plus the validate and refresh operations that write the
// ban_status and portal_info snapshots.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/portal"
	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
	"github.com/wellgone/augment-token-manager-worker/internal/service/validator"
)

const (
	MaxBatchImport   = 100
	MaxBatchValidate = 50
	DefaultPageSize  = 10
	MaxPageSize      = 100
)

var (
	ErrEmptyBatch          = fmt.Errorf("%w: at least one item is required", domain.ErrInvalidTokenInput)
	ErrBatchTooLarge       = fmt.Errorf("%w: batch too large", domain.ErrInvalidTokenInput)
	ErrAccessTokenRequired = fmt.Errorf("%w: access_token is required", domain.ErrInvalidTokenInput)
)

// Validator is the subset of validator.Validator the service depends on.
type Validator interface {
	ValidateToken(ctx context.Context, token, tenantURL string) (*domain.TokenValidationResult, error)
	ValidateTokensBatch(ctx context.Context, pairs []validator.TokenPair, opts validator.BatchOptions) []validator.BatchResult
}

// PortalClient fetches billing data for a portal link token.
type PortalClient interface {
	CustomerFromLink(ctx context.Context, linkToken string) (*portal.Customer, error)
	LedgerSummary(ctx context.Context, customer *portal.Customer, linkToken string) (*portal.LedgerSummary, error)
}

// ValidationOutcome is the result of validating one stored record.
type ValidationOutcome struct {
	IsValid bool                          `json:"isValid"`
	Status  string                        `json:"status"`
	Message string                        `json:"message,omitempty"`
	Token   *domain.TokenRecord           `json:"token,omitempty"`
	Result  *domain.TokenValidationResult `json:"result,omitempty"`
}

// BatchValidationItem is one index-aligned entry of a batch validation.
type BatchValidationItem struct {
	TokenID string              `json:"tokenId"`
	IsValid bool                `json:"isValid"`
	Status  string              `json:"status"`
	Token   *domain.TokenRecord `json:"token,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// ImportFailure reports one rejected batch import entry.
type ImportFailure struct {
	Token domain.CreateTokenInput `json:"token"`
	Error string                  `json:"error"`
}

// BatchImportResult lists created records and rejected inputs.
type BatchImportResult struct {
	Success []domain.TokenRecord `json:"success"`
	Failed  []ImportFailure      `json:"errors"`
}

// ListQuery selects a page of records.
type ListQuery struct {
	Page      int
	Limit     int
	Search    string
	CreatedBy string
}

// Page is a page of records.
type Page struct {
	Tokens     []domain.TokenRecord `json:"tokens"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// Stats counts records by stored ban status.
type Stats struct {
	Total     int `json:"total"`
	Normal    int `json:"normal"`
	Invalid   int `json:"invalid"`
	Banned    int `json:"banned"`
	Unchecked int `json:"unchecked"`
}

// Config tunes the service.
type Config struct {
	Concurrency int
}

// Service implements the token record lifecycle.
type Service struct {
	repo      repository.TokenRepository
	validator Validator
	portal    PortalClient
	ids       *snowflake.Node
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires the lifecycle service.
func NewService(repo repository.TokenRepository, v Validator, p PortalClient, ids *snowflake.Node, cfg Config, logger *zap.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = validator.DefaultConcurrency
	}
	return &Service{
		repo:      repo,
		validator: v,
		portal:    p,
		ids:       ids,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces time.Now; intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create stores a new record with an initial NORMAL ban status.
func (s *Service) Create(ctx context.Context, in domain.CreateTokenInput, createdBy string) (*domain.TokenRecord, error) {
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	if in.AccessToken == "" {
		return nil, ErrAccessTokenRequired
	}

	ts := domain.Timestamp(s.now())
	initial, err := json.Marshal(domain.BanStatus{
		Status:    domain.BanNormal,
		Reason:    domain.ReasonInitial,
		UpdatedAt: ts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal initial ban status: %w", err)
	}

	record := domain.TokenRecord{
		ID:          s.ids.Generate().String(),
		TenantURL:   strings.TrimSpace(in.TenantURL),
		AccessToken: in.AccessToken,
		PortalURL:   strings.TrimSpace(in.PortalURL),
		EmailNote:   in.EmailNote,
		BanStatus:   string(initial),
		PortalInfo:  "{}",
		CreatedAt:   ts,
		UpdatedAt:   ts,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	s.log().Info("token created", zap.String("token_id", record.ID), zap.String("created_by", createdBy))
	return &record, nil
}

// BatchImport creates up to MaxBatchImport records; per-item failures are
// collected instead of aborting.
func (s *Service) BatchImport(ctx context.Context, inputs []domain.CreateTokenInput, createdBy string) (*BatchImportResult, error) {
	switch {
	case len(inputs) == 0:
		return nil, ErrEmptyBatch
	case len(inputs) > MaxBatchImport:
		return nil, fmt.Errorf("%w: maximum %d tokens allowed per batch", ErrBatchTooLarge, MaxBatchImport)
	}

	out := &BatchImportResult{Success: []domain.TokenRecord{}, Failed: []ImportFailure{}}
	for _, in := range inputs {
		record, err := s.Create(ctx, in, createdBy)
		if err != nil {
			out.Failed = append(out.Failed, ImportFailure{Token: in, Error: err.Error()})
			continue
		}
		out.Success = append(out.Success, *record)
	}
	return out, nil
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id string) (*domain.TokenRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Update changes identity fields only.
func (s *Service) Update(ctx context.Context, id string, in domain.UpdateTokenInput) (*domain.TokenRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.AccessToken != nil {
		token := strings.TrimSpace(*in.AccessToken)
		if token == "" {
			return nil, ErrAccessTokenRequired
		}
		record.AccessToken = token
	}
	if in.TenantURL != nil {
		record.TenantURL = strings.TrimSpace(*in.TenantURL)
	}
	if in.PortalURL != nil {
		record.PortalURL = strings.TrimSpace(*in.PortalURL)
	}
	if in.EmailNote != nil {
		record.EmailNote = *in.EmailNote
	}
	record.UpdatedAt = domain.Timestamp(s.now())

	if err := s.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("update token: %w", err)
	}
	return &record, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.log().Info("token deleted", zap.String("token_id", id))
	return nil
}

// List returns records newest first. Without a filter only the requested
// page is loaded.
func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	q.Limit = min(q.Limit, MaxPageSize)

	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	if q.Search == "" && q.CreatedBy == "" {
		records, err := s.load(ctx, paginate(ids, q.Page, q.Limit))
		if err != nil {
			return nil, err
		}
		return newPage(records, len(ids), q), nil
	}

	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, record := range all {
		if matches(record, q) {
			filtered = append(filtered, record)
		}
	}
	return newPage(paginate(filtered, q.Page, q.Limit), len(filtered), q), nil
}

// Stats counts records by stored ban status without contacting the tenant.
func (s *Service) Stats(ctx context.Context, createdBy string) (*Stats, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	records, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &Stats{}
	for _, record := range records {
		if createdBy != "" && record.CreatedBy != createdBy {
			continue
		}
		out.Total++
		status, ok := record.ParseBanStatus()
		if !ok {
			out.Unchecked++
			continue
		}
		switch status.Status {
		case domain.BanNormal:
			out.Normal++
		case domain.BanBanned:
			out.Banned++
		case domain.BanInvalid:
			out.Invalid++
		default:
			out.Unchecked++
		}
	}
	return out, nil
}

// ValidateTokenStatus probes the record's token and persists the new
// ban_status. portal_info is never touched. A probe that fails at the
// transport level leaves the record unchanged.
func (s *Service) ValidateTokenStatus(ctx context.Context, id string) (*ValidationOutcome, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.TenantURL == "" || record.AccessToken == "" {
		return &ValidationOutcome{
			Status:  string(domain.StatusError),
			Message: "token is missing tenant_url or access_token",
			Token:   &record,
		}, nil
	}

	result, err := s.validator.ValidateToken(ctx, record.AccessToken, record.TenantURL)
	if err != nil {
		s.log().Warn("token validation failed", zap.String("token_id", id), zap.Error(err))
		return &ValidationOutcome{
			Status:  string(domain.StatusError),
			Message: err.Error(),
			Token:   &record,
		}, nil
	}

	if err := s.applyValidation(ctx, &record, result); err != nil {
		return nil, err
	}
	return &ValidationOutcome{
		IsValid: result.IsValid,
		Status:  string(result.Status),
		Message: result.ErrorMessage,
		Token:   &record,
		Result:  result,
	}, nil
}

// ValidateTokensBatch validates up to MaxBatchValidate records with bounded
// concurrency. The output is index aligned with ids.
func (s *Service) ValidateTokensBatch(ctx context.Context, ids []string) ([]BatchValidationItem, error) {
	switch {
	case len(ids) == 0:
		return nil, ErrEmptyBatch
	case len(ids) > MaxBatchValidate:
		return nil, fmt.Errorf("%w: maximum %d tokens can be validated at once", ErrBatchTooLarge, MaxBatchValidate)
	}

	items := make([]BatchValidationItem, len(ids))
	records := make([]domain.TokenRecord, len(ids))
	var pairs []validator.TokenPair
	var positions []int

	for i, id := range ids {
		items[i] = BatchValidationItem{TokenID: id, Status: string(domain.StatusError)}
		record, err := s.repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				items[i].Error = "Token not found"
			} else {
				items[i].Error = err.Error()
			}
			continue
		}
		records[i] = record
		if record.TenantURL == "" || record.AccessToken == "" {
			items[i].Error = "token is missing tenant_url or access_token"
			items[i].Token = &records[i]
			continue
		}
		pairs = append(pairs, validator.TokenPair{Token: record.AccessToken, TenantURL: record.TenantURL})
		positions = append(positions, i)
	}

	results := s.validator.ValidateTokensBatch(ctx, pairs, validator.BatchOptions{Concurrency: s.cfg.Concurrency})
	for k, res := range results {
		i := positions[k]
		record := &records[i]
		items[i].Token = record
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			continue
		}
		if err := s.applyValidation(ctx, record, res.Result); err != nil {
			items[i].Error = err.Error()
			continue
		}
		items[i].IsValid = res.Result.IsValid
		items[i].Status = string(res.Result.Status)
	}

	s.log().Info("batch validation completed", zap.Int("total", len(ids)), zap.Int("probed", len(pairs)))
	return items, nil
}

// RefreshTokenInfo reloads billing data from the portal and persists
// portal_info. ban_status is never touched. On failure updated_at is still
// bumped so the attempt is visible.
func (s *Service) RefreshTokenInfo(ctx context.Context, id string) (*domain.TokenRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	info, fetchErr := s.fetchPortalInfo(ctx, record.PortalURL)
	if fetchErr != nil {
		s.log().Warn("token refresh failed", zap.String("token_id", id), zap.Error(fetchErr))
	} else {
		payload, err := json.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("marshal portal info: %w", err)
		}
		record.PortalInfo = string(payload)
	}
	record.UpdatedAt = domain.Timestamp(s.now())

	if err := s.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	return &record, nil
}

func (s *Service) fetchPortalInfo(ctx context.Context, portalURL string) (*domain.PortalInfo, error) {
	linkToken, err := portal.TokenFromPortalURL(portalURL)
	if err != nil {
		return nil, err
	}
	customer, err := s.portal.CustomerFromLink(ctx, linkToken)
	if err != nil {
		return nil, err
	}
	ledger, err := s.portal.LedgerSummary(ctx, customer, linkToken)
	if err != nil {
		return nil, err
	}

	info := &domain.PortalInfo{CreditsBalance: ledger.CreditsBalance.Int()}
	if len(ledger.CreditBlocks) > 0 {
		info.IsActive = ledger.CreditBlocks[0].IsActive
		info.ExpiryDate = ledger.CreditBlocks[0].ExpiryDate
	}
	return info, nil
}

func (s *Service) applyValidation(ctx context.Context, record *domain.TokenRecord, result *domain.TokenValidationResult) error {
	ts := domain.Timestamp(s.now())
	reason := result.ErrorMessage
	if reason == "" {
		reason = domain.ReasonValidationPassed
	}
	payload, err := json.Marshal(domain.BanStatus{
		Status:           result.BanState(),
		Reason:           reason,
		ValidationStatus: string(result.Status),
		ResponseCode:     result.ResponseCode,
		UpdatedAt:        ts,
	})
	if err != nil {
		return fmt.Errorf("marshal ban status: %w", err)
	}
	record.BanStatus = string(payload)
	record.UpdatedAt = ts

	if err := s.repo.Save(ctx, *record); err != nil {
		return fmt.Errorf("persist ban status: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, ids []string) ([]domain.TokenRecord, error) {
	records := make([]domain.TokenRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func matches(record domain.TokenRecord, q ListQuery) bool {
	if q.CreatedBy != "" && record.CreatedBy != q.CreatedBy {
		return false
	}
	if q.Search == "" {
		return true
	}
	term := strings.ToLower(q.Search)
	return strings.Contains(strings.ToLower(record.AccessToken), term) ||
		strings.Contains(strings.ToLower(record.TenantURL), term) ||
		strings.Contains(strings.ToLower(record.EmailNote), term)
}

func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	return items[start:min(start+limit, len(items))]
}

func newPage(records []domain.TokenRecord, total int, q ListQuery) *Page {
	if records == nil {
		records = []domain.TokenRecord{}
	}
	return &Page{
		Tokens:     records,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
	}
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
