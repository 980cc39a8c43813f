package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "generation_duration_seconds",
		Help:      "Duration of AI content generation requests",
	}, []string{"model", "kind"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "generation_failures_total",
		Help:      "Number of AI content generation failures",
	}, []string{"model", "kind"})
)

// OpenAIConfig defines configuration options for the OpenAI generator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGenerator implements Generator against the OpenAI chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGenerator builds a new generator using the provided configuration.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-sync/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIGenerator{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With().Str("component", "openai_generator").Logger(),
	}, nil
}

// Generate sends the generation request to OpenAI and parses the JSON response.
func (g *OpenAIGenerator) Generate(parent context.Context, input GenerationInput) (GenerationResult, error) {
	kind := input.Kind
	if kind == "" {
		kind = KindLessonPlan
	}

	ctx, span := g.tracer.Start(parent, "openai.generate", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.String("ai.kind", kind),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: generatorSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(kind, input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(g.cfg.Model, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return GenerationResult{}, g.fail(span, kind, fmt.Errorf("openai generate: %w", err))
	}

	if len(resp.Choices) == 0 {
		return GenerationResult{}, g.fail(span, kind, fmt.Errorf("no choices returned from openai"))
	}

	result, err := parseGenerationResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return GenerationResult{}, g.fail(span, kind, err)
	}

	result.Model = resp.Model
	if result.Model == "" {
		result.Model = g.cfg.Model
	}
	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return result, nil
}

func (g *OpenAIGenerator) fail(span trace.Span, kind string, err error) error {
	aiFailures.WithLabelValues(g.cfg.Model, kind).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Warn().Err(err).Str("kind", kind).Msg("content generation failed")
	return err
}

func generatorSystemPrompt() string {
	return "You are a teaching assistant for a school. Respond with a JSON object containing title, content, and an " +
		"optional items array. Keep the language appropriate for the stated grade level."
}

func buildUserPrompt(kind string, input GenerationInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Kind\n")
	builder.WriteString(kind)
	builder.WriteString("\n\n## Subject\n")
	builder.WriteString(input.Subject)
	builder.WriteString("\n\n## Topic\n")
	builder.WriteString(input.Topic)
	if input.GradeLevel != "" {
		builder.WriteString("\n\n## Grade Level\n")
		builder.WriteString(input.GradeLevel)
	}
	if input.MaxItems > 0 {
		builder.WriteString("\n\n## Items\nAt most ")
		builder.WriteString(strconv.Itoa(input.MaxItems))
	}
	if input.Instructions != "" {
		builder.WriteString("\n\n## Notes\n")
		builder.WriteString(input.Instructions)
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseGenerationResponse(content string) (GenerationResult, error) {
	if content == "" {
		return GenerationResult{}, fmt.Errorf("empty response from openai")
	}

	var result GenerationResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return GenerationResult{}, fmt.Errorf("decode openai response: %w", err)
	}
	if strings.TrimSpace(result.Content) == "" && len(result.Items) == 0 {
		return GenerationResult{}, fmt.Errorf("openai response has no content")
	}
	return result, nil
}
