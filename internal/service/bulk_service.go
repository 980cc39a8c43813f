package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/workpool"
)

// BulkImportService fans a batch of same-route items out over the work pool.
type BulkImportService interface {
	Import(ctx context.Context, userID string, req dto.BulkImportRequest) (dto.BulkImportResponse, error)
}

type bulkImportService struct {
	offline   OfflineService
	limiter   *ratelimit.Limiter
	pool      *workpool.Queue
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewBulkImportService constructs a bulk import service running items on pool.
func NewBulkImportService(offline OfflineService, limiter *ratelimit.Limiter, pool *workpool.Queue, validate *validator.Validate, logger zerolog.Logger) BulkImportService {
	return &bulkImportService{
		offline:   offline,
		limiter:   limiter,
		pool:      pool,
		validator: validate,
		logger:    logger.With().Str("component", "bulk_import_service").Logger(),
	}
}

// Import admits the whole batch once under the bulk_import policy, then performs
// every item. Item results keep request order.
func (s *bulkImportService) Import(ctx context.Context, userID string, req dto.BulkImportRequest) (dto.BulkImportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.BulkImportResponse{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	identifier := strings.TrimSpace(userID)
	if identifier == "" {
		identifier = anonymousIdentifier
	}
	decision := s.limiter.CheckLimit(ratelimit.ActionBulkImport, identifier)
	if !decision.Allowed {
		return dto.BulkImportResponse{}, &RateLimitError{Action: ratelimit.ActionBulkImport, RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	futures := make([]*workpool.Future, len(req.Items))
	for i, item := range req.Items {
		actionReq := dto.ActionRequest{Type: req.Type, Action: req.Action, Payload: item}
		futures[i] = s.pool.Enqueue(ctx, func(ctx context.Context) (any, error) {
			return s.offline.Submit(ctx, actionReq)
		})
	}

	response := dto.BulkImportResponse{Items: make([]dto.BulkItemResult, 0, len(futures))}
	for i, future := range futures {
		result := dto.BulkItemResult{Index: i}
		value, err := future.Wait(ctx)
		switch {
		case err != nil:
			result.Status = "failed"
			result.Error = err.Error()
			response.Failed++
		default:
			performed := value.(dto.PerformResponse)
			result.Status = performed.Status
			result.ActionID = performed.ActionID
			result.Error = performed.Error
			if performed.Status == StatusExecuted {
				response.Executed++
			} else {
				response.Queued++
			}
		}
		response.Items = append(response.Items, result)
	}

	s.logger.Info().
		Str("route", req.Type+"/"+req.Action).
		Int("items", len(req.Items)).
		Int("executed", response.Executed).
		Int("queued", response.Queued).
		Int("failed", response.Failed).
		Msg("bulk import finished")

	return response, nil
}
