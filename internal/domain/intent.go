package domain

// Category is the coarse intent driving handler selection.
type Category string

const (
	CategoryTroubleshooting Category = "TROUBLESHOOTING"
	CategoryExecution       Category = "EXECUTION"
	CategoryClarification   Category = "CLARIFICATION"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the known levels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// ClassificationResult is produced per request and never persisted.
type ClassificationResult struct {
	IntentCategory Category   `json:"intent_category"`
	AWSService     string     `json:"aws_service"`
	Confidence     Confidence `json:"confidence"`
	Reasoning      string     `json:"reasoning"`
}
