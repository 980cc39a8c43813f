package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/dispatch"
	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/models"
	"github.com/noah-isme/gema-sync/internal/observability"
	"github.com/noah-isme/gema-sync/internal/queue"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/syncer"
)

// Perform outcomes.
const (
	StatusExecuted = "executed"
	StatusQueued   = "queued"
	StatusRejected = "rejected"
)

const anonymousIdentifier = "anonymous"

// OfflineService is the caller-facing surface of the offline action queue.
type OfflineService interface {
	QueueAction(ctx context.Context, req dto.ActionRequest) (string, error)
	Perform(ctx context.Context, userID string, req dto.ActionRequest) (dto.PerformResponse, error)
	Submit(ctx context.Context, req dto.ActionRequest) (dto.PerformResponse, error)
	GetQueuedActionsCount(ctx context.Context) (int, error)
	GetQueuedActions(ctx context.Context) ([]dto.QueuedActionResponse, error)
	ClearQueue(ctx context.Context) error
	SyncQueuedActions(ctx context.Context) (dto.SyncSummary, error)
	Status(ctx context.Context) (dto.StatusResponse, error)
	GetOnlineStatus() bool
	OnOnline(listener connectivity.Listener) func()
	OnOffline(listener connectivity.Listener) func()
	CheckLimit(action, identifier string) ratelimit.Decision
	GetRemainingRequests(action, identifier string) int
	Usage(action, identifier string) ratelimit.Usage
}

type offlineService struct {
	store        queue.Store
	dispatcher   *dispatch.Dispatcher
	monitor      *connectivity.Monitor
	orchestrator *syncer.Orchestrator
	limiter      *ratelimit.Limiter
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewOfflineService constructs the offline action service.
func NewOfflineService(
	store queue.Store,
	dispatcher *dispatch.Dispatcher,
	monitor *connectivity.Monitor,
	orchestrator *syncer.Orchestrator,
	limiter *ratelimit.Limiter,
	validate *validator.Validate,
	logger zerolog.Logger,
) OfflineService {
	return &offlineService{
		store:        store,
		dispatcher:   dispatcher,
		monitor:      monitor,
		orchestrator: orchestrator,
		limiter:      limiter,
		validator:    validate,
		logger:       logger.With().Str("component", "offline_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-sync/internal/service/offline"),
		now:          time.Now,
	}
}

func (s *offlineService) build(req dto.ActionRequest) (models.QueuedAction, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.QueuedAction{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	actionType := models.ActionType(req.Type)
	name := strings.TrimSpace(req.Action)
	if !s.dispatcher.Has(actionType, name) {
		return models.QueuedAction{}, fmt.Errorf("%w: no route for %s/%s", ErrInvalidAction, actionType, name)
	}

	return models.QueuedAction{
		Type:           actionType,
		Action:         name,
		Payload:        req.Payload,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}, nil
}

func (s *offlineService) QueueAction(ctx context.Context, req dto.ActionRequest) (string, error) {
	action, err := s.build(req)
	if err != nil {
		return "", err
	}

	id, err := s.enqueue(ctx, &action)
	if err != nil {
		return "", err
	}

	if s.monitor.IsOnline() {
		s.orchestrator.Nudge(syncer.TriggerManual)
	}
	return id, nil
}

func (s *offlineService) enqueue(ctx context.Context, action *models.QueuedAction) (string, error) {
	id, err := s.store.Enqueue(ctx, action)
	if err != nil {
		s.logger.Error().Err(err).Str("route", action.Route()).Msg("failed to persist queued action")
		return "", err
	}

	observability.ActionsEnqueued().WithLabelValues(string(action.Type)).Inc()
	if count, err := s.store.Count(ctx); err == nil {
		observability.QueueDepth().Set(float64(count))
	}
	s.logger.Info().Str("action_id", id).Str("route", action.Route()).Msg("action queued")
	return id, nil
}

func (s *offlineService) Perform(ctx context.Context, userID string, req dto.ActionRequest) (dto.PerformResponse, error) {
	identifier := strings.TrimSpace(userID)
	if identifier == "" {
		identifier = anonymousIdentifier
	}

	decision := s.limiter.CheckLimit(ratelimit.ActionQueue, identifier)
	if !decision.Allowed {
		return dto.PerformResponse{Status: StatusRejected, RetryAfterSeconds: decision.RetryAfterSeconds}, nil
	}

	return s.Submit(ctx, req)
}

// Submit runs an already admitted action: directly when online, otherwise queued.
func (s *offlineService) Submit(ctx context.Context, req dto.ActionRequest) (dto.PerformResponse, error) {
	action, err := s.build(req)
	if err != nil {
		return dto.PerformResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "offline.perform", trace.WithAttributes(
		attribute.String("action.type", string(action.Type)),
		attribute.String("action.name", action.Action),
	))
	defer span.End()

	var directErr error
	if s.monitor.IsOnline() {
		attempt := action
		attempt.ID = queue.NewActionID()
		if attempt.IdempotencyKey == "" {
			attempt.IdempotencyKey = attempt.ID
		}
		attempt.Timestamp = s.now().UTC()

		directErr = s.dispatcher.Execute(ctx, attempt)
		if directErr == nil {
			return dto.PerformResponse{Status: StatusExecuted, ActionID: attempt.ID}, nil
		}
		if errors.Is(directErr, dispatch.ErrInvalidPayload) {
			span.RecordError(directErr)
			return dto.PerformResponse{}, fmt.Errorf("%w: %v", ErrInvalidAction, directErr)
		}

		s.logger.Warn().Err(directErr).Str("route", attempt.Route()).Msg("direct execution failed, queueing action")
		action = attempt
	}

	id, err := s.enqueue(ctx, &action)
	if err != nil {
		span.RecordError(err)
		return dto.PerformResponse{}, err
	}

	response := dto.PerformResponse{Status: StatusQueued, ActionID: id}
	if directErr != nil {
		response.Error = directErr.Error()
	}
	return response, nil
}

func (s *offlineService) GetQueuedActionsCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *offlineService) GetQueuedActions(ctx context.Context) ([]dto.QueuedActionResponse, error) {
	actions, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return dto.NewQueuedActionResponseSlice(actions), nil
}

func (s *offlineService) ClearQueue(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	observability.QueueDepth().Set(0)
	s.logger.Warn().Msg("queue cleared")
	return nil
}

func (s *offlineService) SyncQueuedActions(ctx context.Context) (dto.SyncSummary, error) {
	result, err := s.orchestrator.SyncQueuedActions(ctx)
	if err != nil {
		return dto.SyncSummary{}, err
	}
	return summaryFromResult(result, syncer.TriggerManual), nil
}

func (s *offlineService) Status(ctx context.Context) (dto.StatusResponse, error) {
	pending, err := s.store.Count(ctx)
	if err != nil {
		return dto.StatusResponse{}, err
	}

	state := s.monitor.State()
	response := dto.StatusResponse{
		Online:         state == connectivity.Online,
		State:          state.String(),
		Pending:        pending,
		SyncInProgress: s.orchestrator.InProgress(),
		MaxRetries:     s.orchestrator.MaxRetries(),
	}
	if changed := s.monitor.LastChange(); !changed.IsZero() {
		response.LastChange = &changed
	}
	if report, ok := s.orchestrator.LastReport(); ok {
		summary := summaryFromReport(report)
		response.LastSync = &summary
	}
	return response, nil
}

func (s *offlineService) GetOnlineStatus() bool {
	return s.monitor.IsOnline()
}

func (s *offlineService) OnOnline(listener connectivity.Listener) func() {
	return s.monitor.OnOnline(listener)
}

func (s *offlineService) OnOffline(listener connectivity.Listener) func() {
	return s.monitor.OnOffline(listener)
}

func (s *offlineService) CheckLimit(action, identifier string) ratelimit.Decision {
	return s.limiter.CheckLimit(action, identifier)
}

func (s *offlineService) GetRemainingRequests(action, identifier string) int {
	return s.limiter.GetRemainingRequests(action, identifier)
}

func (s *offlineService) Usage(action, identifier string) ratelimit.Usage {
	return s.limiter.Usage(action, identifier)
}

func summaryFromResult(result syncer.Result, trigger string) dto.SyncSummary {
	return dto.SyncSummary{
		Success: result.Success,
		Failed:  result.Failed,
		Dropped: result.Dropped,
		Total:   result.Total,
		Skipped: result.Skipped,
		Reason:  result.Reason,
		Trigger: trigger,
	}
}

func summaryFromReport(report syncer.Report) dto.SyncSummary {
	summary := summaryFromResult(report.Result, report.Trigger)
	summary.FinishedAt = report.FinishedAt
	return summary
}
