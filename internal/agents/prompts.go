package agents

import (
	"fmt"
	"strings"

	"ops-agent/internal/domain"
)

var replySchema = &domain.OutputSchema{
	Name: "agent_reply",
	Schema: []byte(`{
		"type":"object",
		"properties":{
			"response":{"type":"string"},
			"fixes":{
				"type":"array",
				"items":{
					"type":"object",
					"properties":{
						"action_type":{"type":"string","enum":["create","update","delete","configure","restart","scale"]},
						"resource_type":{"type":"string"},
						"resource_identifier":{"type":"string"},
						"description":{"type":"string"},
						"commands_executed":{"type":"array","items":{"type":"string"}},
						"before_state":{"type":"object"},
						"after_state":{"type":"object"},
						"success":{"type":"boolean"},
						"error_message":{"type":["string","null"]}
					},
					"required":["action_type","resource_type","resource_identifier","description"]
				}
			}
		},
		"required":["response","fixes"]
	}`),
}

var validationSchema = &domain.OutputSchema{
	Name:   "validation_report",
	Strict: true,
	Schema: []byte(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"summary":{"type":"string"},
			"results":{
				"type":"array",
				"items":{
					"type":"object",
					"additionalProperties":false,
					"properties":{
						"fix_id":{"type":"string"},
						"status":{"type":"string","enum":["PASS","FAIL","PENDING"]},
						"message":{"type":"string"}
					},
					"required":["fix_id","status","message"]
				}
			}
		},
		"required":["summary","results"]
	}`),
}

func replyContract() string {
	return "Return JSON only with keys response (string, the user-facing answer) and fixes " +
		"(array; one entry per change you applied with action_type, resource_type, " +
		"resource_identifier, description, commands_executed, before_state, after_state, " +
		"success and error_message). Return an empty fixes array when nothing was changed."
}

func troubleshootingSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are an AWS troubleshooting specialist with conversation memory and auto-fix capabilities.",
		"",
		"Process:",
		"1) Use the conversation context when the user refers to earlier issues or results.",
		"2) Identify the AWS service and the specific resource with issues.",
		"3) Check configuration and status, then analyze CloudWatch logs for errors.",
		"4) Identify the root cause.",
		"5) Apply safe, reversible fixes such as configuration, IAM policy or restart changes.",
		"6) Record every fix with its before and after state.",
		"7) Give the user steps to verify the fixes.",
		"",
		"Rules:",
		"- Explain what you fix and why.",
		"- Ask for confirmation before destructive operations.",
		"",
		"Output Contract:",
		replyContract(),
	}, "\n")
}

func executionSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are an AWS operations specialist with conversation memory and proactive fix capabilities.",
		"",
		"Process:",
		"1) Use the conversation context when the user refers to earlier results (\"show more\", \"yes\", \"continue\").",
		"2) Identify the specific AWS operation needed and complete it with the available tools.",
		"3) Fix permission problems or suboptimal settings you meet along the way, and record each fix.",
		"4) Report clear results and status.",
		"5) If the tools you need are not available, say clearly what is missing.",
		"",
		"Output Contract:",
		replyContract(),
	}, "\n")
}

func buildDocumentationPrompt(request string) string {
	return strings.Join([]string{
		fmt.Sprintf("The user requested: %q", request),
		"",
		"The tools needed for this request are not available in the current gateway. Provide:",
		"1) The tools or permissions that would be needed.",
		"2) Relevant AWS documentation links.",
		"3) Step-by-step guidance for doing it manually.",
		"4) Alternative approaches if any exist.",
		"",
		"Be practical and actionable even without direct tool access.",
	}, "\n")
}

func validationSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are an AWS validation specialist verifying fixes applied by other agents.",
		"",
		"For each fix:",
		"- Check the current state of the modified resource.",
		"- Compare it with the expected after-state.",
		"- Test functionality where possible.",
		"- Report PASS or FAIL with reasoning, or PENDING when you cannot check it.",
		"",
		"Output Contract:",
		"Return JSON only with keys summary (string) and results (array of objects with fix_id, status and message).",
	}, "\n")
}

func buildValidationRequest(fixes []domain.FixAction, contextText string) string {
	var b strings.Builder
	if contextText != "" {
		b.WriteString(contextText)
		b.WriteString("\n")
	}
	b.WriteString("Please validate the following fixes that were applied:\n\n")
	for i, f := range fixes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Description)
		fmt.Fprintf(&b, "   Fix ID: %s\n", f.ActionID)
		fmt.Fprintf(&b, "   Resource: %s\n", f.ResourceIdentifier)
		fmt.Fprintf(&b, "   Action: %s\n", f.ActionType)
		fmt.Fprintf(&b, "   Commands: %s\n", strings.Join(f.CommandsExecuted, ", "))
		fmt.Fprintf(&b, "   Expected state: %v\n\n", f.AfterState)
	}
	b.WriteString("For each fix, check the current state of the resource, verify it matches the expected after-state, ")
	b.WriteString("test functionality if applicable, and report PASS or FAIL with reasoning.\n")
	return b.String()
}

// withContext prefixes the handler request with conversation context.
func withContext(contextText, prompt string) string {
	if contextText == "" {
		return prompt
	}
	return contextText + prompt
}
