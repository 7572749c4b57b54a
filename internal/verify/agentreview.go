package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// AgentReviewVerdict is the structured verdict an agent review returns.
type AgentReviewVerdict string

// Agent review verdicts.
const (
	VerdictApprove        AgentReviewVerdict = "approve"
	VerdictRequestChanges AgentReviewVerdict = "request_changes"
	VerdictComment        AgentReviewVerdict = "comment"
)

// AgentReviewResponse is the parsed JSON an agent review provider returns.
type AgentReviewResponse struct {
	Verdict     AgentReviewVerdict `json:"verdict"`
	Findings    []string           `json:"findings"`
	Suggestions []string           `json:"suggestions"`
}

// agentReviewResponseSchema rejects a malformed verdict before it reaches
// json.Unmarshal, since a provider returning free-form prose would otherwise
// unmarshal into a zero-value AgentReviewResponse silently.
var agentReviewResponseSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["verdict"],
	"properties": {
		"verdict": {"type": "string", "enum": ["approve", "request_changes", "comment"]},
		"findings": {"type": "array", "items": {"type": "string"}},
		"suggestions": {"type": "array", "items": {"type": "string"}}
	}
}`)

// AgentReviewFunc calls out to a configured review provider with a bounded
// prompt and returns its raw JSON response.
type AgentReviewFunc func(ctx context.Context, prompt string) (string, error)

// agentReviewDiffCharCap bounds how much of the diff is included in the
// review prompt.
const agentReviewDiffCharCap = 20000

// agentReviewContextCharBudget bounds the total size of context files
// admitted alongside the diff, smallest files first so more files fit.
const agentReviewContextCharBudget = 40000

// BuildAgentReviewPrompt assembles a bounded prompt: the diff truncated to
// agentReviewDiffCharCap, followed by context files greedily admitted
// smallest-first until agentReviewContextCharBudget is exhausted.
func BuildAgentReviewPrompt(diff string, contextFiles map[string]string) string {
	if len(diff) > agentReviewDiffCharCap {
		diff = diff[:agentReviewDiffCharCap]
	}

	type file struct {
		path    string
		content string
	}

	files := make([]file, 0, len(contextFiles))
	for path, content := range contextFiles {
		files = append(files, file{path: path, content: content})
	}

	sort.Slice(files, func(i, j int) bool { return len(files[i].content) < len(files[j].content) })

	var prompt strings.Builder

	prompt.WriteString("Diff:\n")
	prompt.WriteString(diff)
	prompt.WriteString("\n\nContext:\n")

	budget := agentReviewContextCharBudget

	for _, f := range files {
		if len(f.content) > budget {
			continue
		}

		prompt.WriteString(fmt.Sprintf("--- %s ---\n", f.path))
		prompt.WriteString(f.content)
		prompt.WriteString("\n")
		budget -= len(f.content)
	}

	return prompt.String()
}

func (r *Runner) runAgentReviewStep(ctx context.Context, step Step, result *StepResult) {
	if r.AgentReview == nil {
		result.Status = StatusSkip
		result.Findings = []string{"no review provider configured"}

		return
	}

	start := time.Now()

	diff, contextFiles, err := r.reviewContext(ctx)
	if err != nil {
		result.Status = StatusPass
		result.Findings = []string{fmt.Sprintf("agent review context unavailable: %v", err)}

		return
	}

	prompt := BuildAgentReviewPrompt(diff, contextFiles)

	raw, err := r.AgentReview(ctx, prompt)
	if err != nil {
		// Soft-fail: a review provider error never fails the workflow, it
		// only adds a warning finding, per §4.M.
		result.Status = StatusPass
		result.Findings = []string{fmt.Sprintf("agent review unavailable after %s: %v", elapsedSince(start), err)}

		return
	}

	verdictResult, err := gojsonschema.Validate(agentReviewResponseSchema, gojsonschema.NewStringLoader(raw))
	if err != nil || !verdictResult.Valid() {
		result.Status = StatusPass
		result.Findings = []string{fmt.Sprintf("agent review response failed schema validation: %v", err)}

		return
	}

	var resp AgentReviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		result.Status = StatusPass
		result.Findings = []string{fmt.Sprintf("agent review response unparsable: %v", err)}

		return
	}

	result.Findings = resp.Findings
	result.Suggestions = resp.Suggestions

	if resp.Verdict == VerdictRequestChanges {
		result.Status = StatusFail
	} else {
		result.Status = StatusPass
	}
}

func (r *Runner) reviewContext(ctx context.Context) (string, map[string]string, error) {
	if r.ReviewContext == nil {
		return "", nil, nil
	}

	return r.ReviewContext(ctx)
}
