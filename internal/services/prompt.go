package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxPromptTokens bounds the subject text sent to the analyzer
const DefaultMaxPromptTokens = 4000

const truncationMarker = "\n[truncated]"

// TokenEncoder is the subset of *tiktoken.Tiktoken the prompt builder needs
type TokenEncoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

var pipelineInstructions = map[string]string{
	PipelineErrors: "You are reviewing a cluster of recurring application errors. " +
		"Decide whether the cluster points at a real defect, how severe it is, and what an engineer should do next.",
	PipelineCompliance: "You are reviewing published content for compliance problems such as unsupported claims, " +
		"missing disclosures, or misleading pricing. Decide whether the content needs attention and what to change.",
}

// PromptBuilder renders analyzer prompts. Subject text is cut to the token
// budget; the expected response schema is embedded so the model answers with
// a single JSON object.
type PromptBuilder struct {
	maxTokens int
	encoder   TokenEncoder
	schema    string
}

// NewPromptBuilder uses the cl100k_base encoding. When it cannot be loaded the
// builder falls back to a four-characters-per-token estimate.
func NewPromptBuilder(maxTokens int, logger *slog.Logger) *PromptBuilder {
	var encoder TokenEncoder
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		if logger != nil {
			logger.Warn("token encoding unavailable, using character estimate", "error", err)
		}
	} else {
		encoder = enc
	}
	return NewPromptBuilderWithEncoder(maxTokens, encoder)
}

// NewPromptBuilderWithEncoder accepts an explicit encoder; nil selects the
// character estimate.
func NewPromptBuilderWithEncoder(maxTokens int, encoder TokenEncoder) *PromptBuilder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxPromptTokens
	}
	return &PromptBuilder{
		maxTokens: maxTokens,
		encoder:   encoder,
		schema:    analysisSchema(),
	}
}

func analysisSchema() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&models.AnalysisResult{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Schema returns the JSON schema embedded in every prompt
func (b *PromptBuilder) Schema() string {
	return b.schema
}

// CountTokens returns the token count of text
func (b *PromptBuilder) CountTokens(text string) int {
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Truncate cuts text to the token budget. The second return reports whether
// anything was removed.
func (b *PromptBuilder) Truncate(text string) (string, bool) {
	if b.encoder != nil {
		tokens := b.encoder.Encode(text, nil, nil)
		if len(tokens) <= b.maxTokens {
			return text, false
		}
		return b.encoder.Decode(tokens[:b.maxTokens]) + truncationMarker, true
	}

	maxChars := b.maxTokens * 4
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	return string(runes[:maxChars]) + truncationMarker, true
}

// Build renders the full prompt for one subject. meta["pipeline"] selects the
// instructions; the remaining metadata is listed in key order.
func (b *PromptBuilder) Build(text string, meta map[string]string) string {
	instructions, ok := pipelineInstructions[meta["pipeline"]]
	if !ok {
		instructions = "Review the subject below and decide whether it shows a problem that needs attention."
	}

	body, _ := b.Truncate(text)

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nRespond with exactly one JSON object matching this schema and nothing else:\n")
	sb.WriteString(b.schema)
	sb.WriteString("\n\nSeverity must be one of low, medium, high, critical.\n")

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString("\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, meta[k])
		}
	}

	sb.WriteString("\nSubject:\n<<<\n")
	sb.WriteString(body)
	sb.WriteString("\n>>>\n")
	return sb.String()
}
