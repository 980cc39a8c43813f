package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/retry"
	"github.com/noah-isme/gema-sync/pkg/ai"
)

// AIGenerationRetryOptions is the backoff schedule for generator calls.
func AIGenerationRetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		JitterRatio:       0.1,
	}
}

// Connectivity is the read side of the connectivity monitor.
type Connectivity interface {
	IsOnline() bool
}

// AIGenerationService produces classroom content behind admission control.
type AIGenerationService interface {
	Generate(ctx context.Context, userID string, req dto.AIGenerateRequest) (dto.AIGenerateResponse, error)
}

type aiGenerationService struct {
	generator ai.Generator
	limiter   *ratelimit.Limiter
	conn      Connectivity
	retryOpts retry.Options
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewAIGenerationService constructs the service; generator may be nil when no
// provider is configured.
func NewAIGenerationService(generator ai.Generator, limiter *ratelimit.Limiter, conn Connectivity, retryOpts retry.Options, validate *validator.Validate, logger zerolog.Logger) AIGenerationService {
	return &aiGenerationService{
		generator: generator,
		limiter:   limiter,
		conn:      conn,
		retryOpts: retryOpts,
		validator: validate,
		logger:    logger.With().Str("component", "ai_generation_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-sync/internal/service/ai"),
	}
}

func (s *aiGenerationService) Generate(ctx context.Context, userID string, req dto.AIGenerateRequest) (dto.AIGenerateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AIGenerateResponse{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if s.generator == nil {
		return dto.AIGenerateResponse{}, ErrGeneratorUnavailable
	}

	identifier := strings.TrimSpace(userID)
	if identifier == "" {
		identifier = anonymousIdentifier
	}
	decision := s.limiter.CheckLimit(ratelimit.ActionAIGeneration, identifier)
	if !decision.Allowed {
		return dto.AIGenerateResponse{}, &RateLimitError{Action: ratelimit.ActionAIGeneration, RetryAfterSeconds: decision.RetryAfterSeconds}
	}
	if !s.conn.IsOnline() {
		return dto.AIGenerateResponse{}, ErrOffline
	}

	kind := req.Kind
	if kind == "" {
		kind = ai.KindLessonPlan
	}
	ctx, span := s.tracer.Start(ctx, "ai.generate", trace.WithAttributes(
		attribute.String("ai.kind", kind),
		attribute.String("ai.subject", req.Subject),
	))
	defer span.End()

	input := ai.GenerationInput{
		Kind:         kind,
		Subject:      req.Subject,
		Topic:        req.Topic,
		GradeLevel:   req.GradeLevel,
		Instructions: req.Instructions,
		MaxItems:     req.MaxItems,
	}

	attempts := 0
	result, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (ai.GenerationResult, error) {
		attempts++
		return s.generator.Generate(ctx, input)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		s.logger.Error().Err(err).Int("attempts", attempts).Str("kind", kind).Msg("content generation failed")
		return dto.AIGenerateResponse{}, err
	}

	return dto.AIGenerateResponse{
		Title:   result.Title,
		Content: result.Content,
		Items:   result.Items,
		Model:   result.Model,
	}, nil
}
