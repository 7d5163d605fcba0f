package services_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/BradenHooton/warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEncoder treats every space-separated word as one token
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _ []string, _ []string) []int {
	words := strings.Fields(text)
	out := make([]int, len(words))
	for i := range words {
		out[i] = i
	}
	return out
}

func (wordEncoder) Decode(tokens []int) string {
	return strings.Repeat("w ", len(tokens))
}

func TestPromptBuilder_SchemaDescribesResult(t *testing.T) {
	b := services.NewPromptBuilderWithEncoder(100, nil)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(b.Schema()), &schema))

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok, "schema has properties: %s", b.Schema())
	for _, field := range []string{"is_issue", "severity", "category", "description", "suggested_action"} {
		assert.Contains(t, props, field)
	}
}

func TestPromptBuilder_CharacterFallback(t *testing.T) {
	b := services.NewPromptBuilderWithEncoder(10, nil)

	short, truncated := b.Truncate("short text")
	assert.False(t, truncated)
	assert.Equal(t, "short text", short)

	long, truncated := b.Truncate(strings.Repeat("x", 100))
	assert.True(t, truncated)
	assert.True(t, strings.HasPrefix(long, strings.Repeat("x", 40)))
	assert.Contains(t, long, "[truncated]")

	assert.Equal(t, 3, b.CountTokens("123456789"))
}

func TestPromptBuilder_EncoderBudget(t *testing.T) {
	b := services.NewPromptBuilderWithEncoder(3, wordEncoder{})

	assert.Equal(t, 5, b.CountTokens("a b c d e"))

	out, truncated := b.Truncate("a b c d e")
	assert.True(t, truncated)
	assert.Equal(t, "w w w "+"\n[truncated]", out)

	out, truncated = b.Truncate("a b")
	assert.False(t, truncated)
	assert.Equal(t, "a b", out)
}

func TestPromptBuilder_Build(t *testing.T) {
	b := services.NewPromptBuilderWithEncoder(1000, nil)

	prompt := b.Build("Failed for user <num> at <path>", map[string]string{
		"pipeline":    services.PipelineErrors,
		"occurrences": "7",
	})

	assert.Contains(t, prompt, "recurring application errors")
	assert.Contains(t, prompt, b.Schema())
	assert.Contains(t, prompt, "- occurrences: 7\n- pipeline: errors")
	assert.Contains(t, prompt, "Failed for user <num> at <path>")
}

func TestPromptBuilder_DefaultBudget(t *testing.T) {
	b := services.NewPromptBuilderWithEncoder(0, nil)

	_, truncated := b.Truncate(strings.Repeat("x", services.DefaultMaxPromptTokens*4))
	assert.False(t, truncated)
}
