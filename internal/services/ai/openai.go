package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/outbound"
)

// OpenAIProvider talks to an OpenAI-compatible backend. Chat completions go through
// the SDK with the guarded client as its transport; speech is posted directly to the
// configured endpoint, which may live on a different host.
type OpenAIProvider struct {
	client    openai.Client
	outbound  *outbound.Client
	cfg       config.LLMConfig
	logger    *zap.Logger
	debugMode bool
}

var _ LLM = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. cfg is copied and never modified.
func NewOpenAIProvider(cfg config.LLMConfig, client *outbound.Client, log *zap.Logger, debugMode bool) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultBaseURL
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = config.DefaultTextTimeout
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = config.DefaultAudioTimeout
	}

	sdk := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.APIBase()+"/"),
		option.WithHTTPClient(client),
		option.WithRequestTimeout(cfg.TextTimeout),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:    sdk,
		outbound:  client,
		cfg:       cfg,
		logger:    logger.OrNop(log).Named("openai"),
		debugMode: debugMode,
	}
}

// Complete runs a chat completion
func (p *OpenAIProvider) Complete(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.cfg.Model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(p.cfg.Temperature),
	}
	if jsonMode {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	if p.debugMode {
		p.logger.Debug("llm_api_request",
			zap.String("model", p.cfg.Model),
			zap.Int("message_count", len(messages)),
			zap.Bool("json_mode", jsonMode),
			zap.String("prompt_preview", logger.SanitizePrompt(lastUserContent(messages))),
		)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)
	if err != nil {
		classified := classify(err)
		p.logger.Warn("llm_api_error",
			zap.String("model", p.cfg.Model),
			zap.String("error", logger.SanitizeError(err)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
		return "", fmt.Errorf("chat completion failed: %w", classified)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}

	content := resp.Choices[0].Message.Content
	if p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("model", p.cfg.Model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", logger.SanitizePrompt(content)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}
	return content, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Speech posts input to the TTS endpoint and returns MP3 bytes
func (p *OpenAIProvider) Speech(ctx context.Context, input string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          p.cfg.TTSModel,
		Input:          input,
		Voice:          p.cfg.TTSVoice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	data, status, err := p.outbound.Post(ctx, p.cfg.SpeechURL(), headers, body, p.cfg.AudioTimeout)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", classify(err))
	}
	if status != http.StatusOK {
		p.logger.Warn("tts_api_error",
			zap.Int("status", status),
			zap.String("body_preview", logger.SanitizeString(string(data), 200)),
		)
		return nil, &UpstreamError{StatusCode: status}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrInvalidResponse)
	}
	return data, nil
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func lastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
