package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/go-playground/validator/v10"
)

// Defaults applied when the analyzer leaves a field out
const (
	DefaultSeverity        = models.SeverityMedium
	DefaultCategory        = "general"
	DefaultSuggestedAction = "Review manually"
)

var analysisValidate = validator.New()

var severitySynonyms = map[string]string{
	"low":           models.SeverityLow,
	"info":          models.SeverityLow,
	"informational": models.SeverityLow,
	"minor":         models.SeverityLow,
	"trivial":       models.SeverityLow,
	"medium":        models.SeverityMedium,
	"moderate":      models.SeverityMedium,
	"warning":       models.SeverityMedium,
	"warn":          models.SeverityMedium,
	"high":          models.SeverityHigh,
	"major":         models.SeverityHigh,
	"severe":        models.SeverityHigh,
	"error":         models.SeverityHigh,
	"critical":      models.SeverityCritical,
	"blocker":       models.SeverityCritical,
	"fatal":         models.SeverityCritical,
	"urgent":        models.SeverityCritical,
}

// ParseAnalysis coerces a raw analyzer reply into a validated AnalysisResult.
// Code fences and surrounding prose are tolerated; the first JSON object in
// the reply is used. ErrMalformedAnalysis is returned when no object can be
// recovered.
func ParseAnalysis(raw string) (*models.AnalysisResult, error) {
	obj, ok := firstJSONObject(stripCodeFences(raw))
	if !ok {
		return nil, fmt.Errorf("%w: no json object in response", models.ErrMalformedAnalysis)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedAnalysis, err)
	}

	lookup := normalizeKeys(fields)
	result := &models.AnalysisResult{
		IsIssue:         coerceBool(first(lookup, "isissue", "issue", "hasissue", "problem")),
		Severity:        coerceSeverity(first(lookup, "severity", "level", "priority")),
		Category:        strings.ToLower(truncateRunes(coerceString(first(lookup, "category", "type", "kind")), 64)),
		Title:           truncateRunes(coerceString(first(lookup, "title", "summary")), 200),
		Description:     truncateRunes(coerceString(first(lookup, "description", "details", "explanation")), 4000),
		SuggestedAction: truncateRunes(coerceString(first(lookup, "suggestedaction", "remediation", "action", "fix", "recommendation")), 2000),
	}

	if result.Category == "" {
		result.Category = DefaultCategory
	}
	if result.SuggestedAction == "" {
		result.SuggestedAction = DefaultSuggestedAction
	}

	if err := analysisValidate.Struct(result); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedAnalysis, err)
	}
	return result, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// firstJSONObject returns the first balanced {...} in s, skipping braces
// inside string literals
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func normalizeKeys(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(k))
		if _, exists := out[key]; !exists {
			out[key] = v
		}
	}
	return out
}

func first(fields map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func coerceBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

func coerceSeverity(v interface{}) string {
	s := strings.ToLower(strings.TrimSpace(coerceString(v)))
	if mapped, ok := severitySynonyms[s]; ok {
		return mapped
	}
	return DefaultSeverity
}

func coerceString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
