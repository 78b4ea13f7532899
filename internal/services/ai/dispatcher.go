package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/telemetry"
)

const (
	audioFilename = "generated_audio.mp3"
	quizFilename  = "quiz-export.xml"
)

// Result is the output of one generation
type Result struct {
	Content string
	// Blob is nil when the type produces no binary payload, or when speech synthesis failed
	Blob *models.Blob
}

// Generator produces content for a generation request
type Generator interface {
	Generate(ctx context.Context, genType models.GenerationType, prompt string) (*Result, error)
}

// Dispatcher maps a generation type onto prompts and backend calls
type Dispatcher struct {
	llm     LLM
	prompts PromptCatalog
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

var _ Generator = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over llm
func NewDispatcher(llm LLM, prompts PromptCatalog, metrics *telemetry.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		llm:     llm,
		prompts: prompts,
		metrics: metrics,
		logger:  logger.OrNop(log).Named("dispatcher"),
	}
}

// Generate runs the backend calls for genType. presentation, flashcards and quiz must
// come back as valid JSON of the expected shape; audio keeps its script even when
// speech synthesis fails.
func (d *Dispatcher) Generate(ctx context.Context, genType models.GenerationType, prompt string) (*Result, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveGeneration(string(genType), time.Since(start)) }()

	switch genType {
	case models.GenerationTypePresentation:
		raw, err := d.complete(ctx, string(genType), prompt)
		if err != nil {
			return nil, err
		}
		if _, err := ParsePresentation(raw); err != nil {
			return nil, err
		}
		return &Result{Content: compactJSON(raw)}, nil

	case models.GenerationTypeFlashcards:
		raw, err := d.complete(ctx, string(genType), prompt)
		if err != nil {
			return nil, err
		}
		if _, err := ParseFlashcards(raw); err != nil {
			return nil, err
		}
		return &Result{Content: compactJSON(raw)}, nil

	case models.GenerationTypeSummary:
		html, err := d.complete(ctx, string(genType), prompt)
		if err != nil {
			return nil, err
		}
		return &Result{Content: html}, nil

	case models.GenerationTypeAudio:
		return d.generateAudio(ctx, prompt)

	case models.GenerationTypeQuiz:
		raw, err := d.complete(ctx, string(genType), prompt)
		if err != nil {
			return nil, err
		}
		quiz, err := ParseQuiz(raw)
		if err != nil {
			return nil, err
		}
		exported := ExportQuizXML(prompt, quiz)
		return &Result{
			Content: exported,
			Blob: &models.Blob{
				Area:        models.BlobAreaQuiz,
				Filename:    quizFilename,
				ContentType: "application/xml",
				Data:        []byte(exported),
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, genType)
	}
}

func (d *Dispatcher) generateAudio(ctx context.Context, prompt string) (*Result, error) {
	script, err := d.complete(ctx, string(models.GenerationTypeAudio), prompt)
	if err != nil {
		return nil, err
	}

	result := &Result{Content: script}
	mp3, err := d.llm.Speech(ctx, script)
	if err != nil {
		d.logger.Warn("tts_failed_script_kept",
			zap.String("error", logger.SanitizeError(err)),
			zap.Int("script_length", len(script)),
		)
		return result, nil
	}
	result.Blob = &models.Blob{
		Area:        models.BlobAreaAudio,
		Filename:    audioFilename,
		ContentType: "audio/mpeg",
		Data:        mp3,
	}
	return result, nil
}

// Rubric returns an HTML assessment rubric for topic
func (d *Dispatcher) Rubric(ctx context.Context, topic string) (string, error) {
	return d.complete(ctx, PromptRubric, topic)
}

// Chat answers question about material, continuing history
func (d *Dispatcher) Chat(ctx context.Context, material, question string, history []ChatMessage) (string, error) {
	base, _, err := d.prompts.Messages(PromptChat, question, material)
	if err != nil {
		return "", err
	}
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, base[0])
	for _, turn := range history {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			continue
		}
		messages = append(messages, turn)
	}
	messages = append(messages, base[1])

	reply, err := d.llm.Complete(ctx, messages, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrInvalidResponse)
	}
	return reply, nil
}

func (d *Dispatcher) complete(ctx context.Context, kind, topic string) (string, error) {
	messages, jsonMode, err := d.prompts.Messages(kind, topic, "")
	if err != nil {
		return "", err
	}
	out, err := d.llm.Complete(ctx, messages, jsonMode)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return out, nil
}
