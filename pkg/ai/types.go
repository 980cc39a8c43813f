package ai

import "context"

// Content kinds a generator can produce.
const (
	KindLessonPlan    = "lesson_plan"
	KindQuiz          = "quiz"
	KindReportComment = "report_comment"
	KindFeedback      = "feedback"
)

// GenerationInput describes the teaching material to generate.
type GenerationInput struct {
	Kind         string
	Subject      string
	Topic        string
	GradeLevel   string
	Instructions string
	MaxItems     int
}

// GenerationResult is the structured content returned by a generator.
type GenerationResult struct {
	Title   string                 `json:"title"`
	Content string                 `json:"content"`
	Items   []string               `json:"items,omitempty"`
	Model   string                 `json:"model"`
	Raw     map[string]interface{} `json:"raw,omitempty"`
}

// Generator produces classroom content from a model.
type Generator interface {
	Generate(ctx context.Context, input GenerationInput) (GenerationResult, error)
}
