package models

// AnalysisResult is the typed shape of an analyzer response. Raw payloads are
// always coerced into this before anything else sees them.
type AnalysisResult struct {
	IsIssue         bool   `json:"is_issue" jsonschema:"description=true when the subject shows a real problem"`
	Severity        string `json:"severity" validate:"required,oneof=low medium high critical" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	Category        string `json:"category" validate:"required,max=64" jsonschema:"description=short category such as database or policy"`
	Title           string `json:"title,omitempty" validate:"max=200" jsonschema:"description=one line summary"`
	Description     string `json:"description" validate:"max=4000" jsonschema:"description=what is wrong and why it matters"`
	SuggestedAction string `json:"suggested_action" validate:"required,max=2000" jsonschema:"description=concrete remediation step"`
}
