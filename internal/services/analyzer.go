package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultAnalyzerModel is used when no model is configured
const DefaultAnalyzerModel = "gemini-1.5-flash"

// Analyzer classifies one subject. Implementations must return
// ErrAnalyzerUnavailable for transport failures and ErrMalformedAnalysis for
// replies that cannot be coerced into an AnalysisResult.
type Analyzer interface {
	Analyze(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error)
}

// GenerateFunc sends a prompt to a text model and returns its raw reply
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// AnalyzerConfig configures the Gemini-backed analyzer
type AnalyzerConfig struct {
	APIKey          string
	Model           string
	MaxPromptTokens int
}

// LLMAnalyzer renders a prompt, calls the model and parses the reply
type LLMAnalyzer struct {
	generate GenerateFunc
	prompts  *PromptBuilder
	model    string
	closeFn  func() error
	logger   *slog.Logger
}

// NewGeminiAnalyzer creates an analyzer backed by the Gemini API
func NewGeminiAnalyzer(ctx context.Context, cfg AnalyzerConfig, logger *slog.Logger) (*LLMAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analyzer api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnalyzerModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)
	model.SetCandidateCount(1)

	generate := func(ctx context.Context, prompt string) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	}

	a := NewLLMAnalyzer(generate, NewPromptBuilder(cfg.MaxPromptTokens, logger), logger)
	a.model = cfg.Model
	a.closeFn = client.Close
	return a, nil
}

// NewLLMAnalyzer wraps an arbitrary text model
func NewLLMAnalyzer(generate GenerateFunc, prompts *PromptBuilder, logger *slog.Logger) *LLMAnalyzer {
	if prompts == nil {
		prompts = NewPromptBuilderWithEncoder(DefaultMaxPromptTokens, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMAnalyzer{
		generate: generate,
		prompts:  prompts,
		logger:   logger,
	}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
	prompt := a.prompts.Build(text, meta)
	if a.logger.Enabled(ctx, slog.LevelDebug) {
		a.logger.Debug("sending prompt to analyzer",
			"model", a.model,
			"subject_id", meta["subject_id"],
			"prompt_tokens", a.prompts.CountTokens(prompt),
		)
	}

	raw, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalyzerUnavailable, err)
	}

	result, err := ParseAnalysis(raw)
	if err != nil {
		a.logger.Warn("analyzer reply could not be parsed",
			"model", a.model,
			"subject_id", meta["subject_id"],
			"reply_length", len(raw),
		)
		return nil, err
	}
	return result, nil
}

// Close releases the underlying client
func (a *LLMAnalyzer) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		// one candidate is requested
		break
	}
	return sb.String()
}
