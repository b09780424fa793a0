package agent

import (
	"strings"

	"github.com/osvaldoandrade/uicase/pkg/domain"
)

const rules = `
Rules:
1. Follow the steps literally and in order. Do not substitute workarounds or search for alternative paths.
2. Locate elements by stable semantic hooks (role, accessible name, label, visible text, test id). Avoid absolute XPath, nth-child chains and generated class names.
3. If something blocks a step (overlay, cookie banner, modal), you may attempt at most two remediation actions such as dismissing it. If the step is still blocked, the test fails.
4. Evaluate the success criteria only after every step has been performed.

Response format:
Reply with exactly one JSON object and nothing else (no prose, no markdown fences):
{
  "ok": <true|false>,
  "status": "passed" | "failed" | "error",
  "title": "<final page title>",
  "url": "<final page URL>",
  "assertions": [
    {"name": "<criterion or check>", "passed": <true|false>, "actual": "<observed>", "expected": "<expected>", "reason": "<why it passed or failed>"}
  ],
  "artifacts": {"screenshots": ["<base64 PNG, data URL, file path or URL>"]},
  "errors": ["<error message>"]
}`

// ComposeInstruction appends the success criteria and the fixed agent rules to
// the task text. The output depends only on its inputs.
func ComposeInstruction(task string, criteria []domain.SuccessCriterion) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(task))
	if len(criteria) > 0 {
		b.WriteString("\n\nSuccess criteria:")
		for _, c := range criteria {
			b.WriteString("\n")
			b.WriteString(c.Line())
		}
	}
	b.WriteString("\n")
	b.WriteString(rules)
	return b.String()
}
