package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/toolops"
	"github.com/nsicore/nsi/internal/workspace"
)

// Tool name constants — the nine NSI verbs, verify split into prepare and
// finalize.
const (
	ToolNameConnect        = "nsi_connect"
	ToolNameContext        = "nsi_context"
	ToolNameReadFile       = "nsi_read_file"
	ToolNameWriteFile      = "nsi_write_file"
	ToolNameSubmit         = "nsi_submit"
	ToolNameSessionStatus  = "nsi_session_status"
	ToolNameListFiles      = "nsi_list_files"
	ToolNameVerifyPrepare  = "nsi_verify_prepare"
	ToolNameVerifyFinalize = "nsi_verify_finalize"
	ToolNameMerge          = "nsi_merge"
)

// Input types (auto-generate JSON schemas via struct tags).

// ConnectInput is the input schema for the nsi_connect tool.
type ConnectInput struct {
	Repo       string `json:"repo"                  jsonschema:"repository name registered with the daemon"`
	Intent     string `json:"intent"                jsonschema:"short description of what this session intends to do"`
	Agent      string `json:"agent"                 jsonschema:"opaque caller-supplied agent identifier"`
	SessionID  string `json:"session_id,omitempty"   jsonschema:"optional caller-chosen session correlation id"`
	Mode       string `json:"mode,omitempty"         jsonschema:"workspace mode: ephemeral (default) or persistent"`
	BaseCommit string `json:"base_commit,omitempty"  jsonschema:"commit hex to pin the workspace to (default: HEAD)"`
}

// ContextInput is the input schema for the nsi_context tool.
type ContextInput struct {
	Session   string `json:"session"              jsonschema:"session token returned by nsi_connect"`
	Query     string `json:"query"                jsonschema:"symbol search query"`
	Depth     int    `json:"depth,omitempty"       jsonschema:"call-graph expansion depth"`
	MaxTokens int    `json:"max_tokens,omitempty"  jsonschema:"token budget to fit the response into; 0 means unbounded"`
	CallGraph bool   `json:"call_graph,omitempty"  jsonschema:"include immediate callers/callees per hit"`
}

// ReadFileInput is the input schema for the nsi_read_file tool.
type ReadFileInput struct {
	Session string `json:"session" jsonschema:"session token returned by nsi_connect"`
	Path    string `json:"path"    jsonschema:"repository-relative file path"`
}

// WriteFileInput is the input schema for the nsi_write_file tool.
type WriteFileInput struct {
	Session string `json:"session" jsonschema:"session token returned by nsi_connect"`
	Path    string `json:"path"    jsonschema:"repository-relative file path"`
	Content string `json:"content" jsonschema:"full new file content"`
}

// SubmitInput is the input schema for the nsi_submit tool.
type SubmitInput struct {
	Session string `json:"session" jsonschema:"session token returned by nsi_connect"`
	Intent  string `json:"intent,omitempty" jsonschema:"updated intent description, if any"`
	Verify  bool   `json:"verify,omitempty" jsonschema:"run the verification pipeline before returning"`
}

// SessionStatusInput is the input schema for the nsi_session_status tool.
type SessionStatusInput struct {
	Session string `json:"session" jsonschema:"session token returned by nsi_connect"`
}

// ListFilesInput is the input schema for the nsi_list_files tool.
type ListFilesInput struct {
	Session      string `json:"session"                 jsonschema:"session token returned by nsi_connect"`
	Prefix       string `json:"prefix,omitempty"        jsonschema:"restrict listing to this path-segment prefix"`
	OnlyModified bool   `json:"only_modified,omitempty" jsonschema:"restrict listing to paths this session touched"`
}

// VerifyPrepareInput is the input schema for the nsi_verify_prepare tool.
type VerifyPrepareInput struct {
	ChangesetID string `json:"changeset_id" jsonschema:"changeset id to begin verification for"`
}

// VerifyFinalizeInput is the input schema for the nsi_verify_finalize tool.
type VerifyFinalizeInput struct {
	ChangesetID string `json:"changeset_id" jsonschema:"changeset id to finalize"`
	Passed      bool   `json:"passed"       jsonschema:"whether the verification run passed"`
}

// MergeInput is the input schema for the nsi_merge tool.
type MergeInput struct {
	Session     string `json:"session"           jsonschema:"session token returned by nsi_connect"`
	Message     string `json:"message,omitempty" jsonschema:"commit message; defaults to the changeset's intent"`
	AuthorName  string `json:"author_name"       jsonschema:"commit author name"`
	AuthorEmail string `json:"author_email"      jsonschema:"commit author email"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set, translating a
// toolops VerbError's kind into the message so the calling agent can react
// without re-deriving it from string matching.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	kind, inner := toolops.AsVerbError(err)

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf("[%s] %v", kind, inner)},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

func parseMode(raw string) workspace.Mode {
	switch raw {
	case string(workspace.ModePersistent):
		return workspace.ModePersistent
	default:
		return workspace.ModeEphemeral
	}
}

func connectRequest(in ConnectInput) toolops.ConnectRequest {
	return toolops.ConnectRequest{
		Repo:       in.Repo,
		Intent:     in.Intent,
		Agent:      in.Agent,
		SessionID:  in.SessionID,
		Mode:       parseMode(in.Mode),
		BaseCommit: in.BaseCommit,
	}
}

func contextRequest(in ContextInput) toolops.ContextRequest {
	return toolops.ContextRequest{
		Session:   in.Session,
		Query:     in.Query,
		Depth:     in.Depth,
		MaxTokens: in.MaxTokens,
		CallGraph: in.CallGraph,
	}
}

func mergeRequest(in MergeInput) toolops.MergeRequest {
	return toolops.MergeRequest{
		Session: in.Session,
		Message: in.Message,
		Author: gitlib.Signature{
			Name:  in.AuthorName,
			Email: in.AuthorEmail,
			When:  time.Now(),
		},
	}
}
