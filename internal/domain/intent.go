package domain

// ClassificationMethod records which tier produced an intent.
type ClassificationMethod string

const (
	// MethodPattern marks a fast-path trigger vocabulary match.
	MethodPattern ClassificationMethod = "pattern"
	// MethodModel marks a slow-path language model classification.
	MethodModel ClassificationMethod = "model"
	// MethodFallback marks a default chosen after both tiers failed.
	MethodFallback ClassificationMethod = "fallback"
)

// ClassifiedIntent is the classifier's verdict for one utterance.
// It is immutable once produced and consumed once by the orchestrator.
type ClassifiedIntent struct {
	Type       string
	Confidence float64
	AgentSlug  string
	ToolName   string
	RawQuery   string
	Method     ClassificationMethod
	// Entities holds values extracted from the utterance (year, place, ...).
	Entities map[string]string
}
