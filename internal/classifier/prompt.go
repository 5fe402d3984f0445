package classifier

import (
	"fmt"
	"strings"

	"ops-agent/internal/domain"
)

const historyPreviewChars = 100

var classificationSchema = &domain.OutputSchema{
	Name:   "intent_classification",
	Strict: true,
	Schema: []byte(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"intent_category":{"type":"string","enum":["TROUBLESHOOTING","EXECUTION"]},
			"aws_service":{"type":"string"},
			"confidence":{"type":"string","enum":["high","medium","low"]},
			"reasoning":{"type":"string"}
		},
		"required":["intent_category","aws_service","confidence","reasoning"]
	}`),
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You route AWS operational requests to the right specialist.",
		"",
		"Categories:",
		"- TROUBLESHOOTING: diagnosing failures, errors, issues, debugging, \"why\", \"failing\", \"not working\".",
		"- EXECUTION: routine operations such as list, create, describe, delete, configure.",
		"",
		"Output Contract:",
		"Return JSON only with keys intent_category (TROUBLESHOOTING or EXECUTION), " +
			"aws_service (service name or \"unknown\"), confidence (high, medium or low) " +
			"and reasoning (one short sentence).",
	}, "\n")
}

// historyBlock renders recent turns for the classification prompt.
func historyBlock(turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAgent (%s): %s...\n", t.UserMessage, t.AgentUsed, truncate(t.AgentResponse, historyPreviewChars))
	}
	b.WriteString("\n")
	return b.String()
}

func buildClassificationPrompt(request string, turns []domain.ConversationTurn) string {
	return fmt.Sprintf("%sCurrent request: %q\n\nClassify this AWS request considering the conversation context.", historyBlock(turns), request)
}

func buildClarificationPrompt(request string, result domain.ClassificationResult) string {
	return strings.Join([]string{
		fmt.Sprintf("User request: %q", request),
		fmt.Sprintf("Classification: category=%s service=%s confidence=%s", result.IntentCategory, result.AWSService, result.Confidence),
		"",
		"Write one concise clarifying question that pins down the AWS service, action or resource the user means.",
		"Return the question only.",
	}, "\n")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
