// Package mcp implements a Model Context Protocol server exposing the nine
// NSI tool-operation verbs over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nsicore/nsi/internal/observability"
	"github.com/nsicore/nsi/internal/toolops"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "nsid"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools: the nine verbs,
	// with verify registered as two tools (prepare and finalize).
	toolCount = 10
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with the NSI tool registrations.
type Server struct {
	inner   *mcpsdk.Server
	mu      sync.RWMutex
	tools   []string
	metrics *observability.REDMetrics
	tracer  trace.Tracer
}

// NewServer creates a new MCP server with every NSI verb registered against
// svc, one repository's bound tool-operation Service.
func NewServer(svc *toolops.Service, deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:   inner,
		tools:   make([]string, 0, toolCount),
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}

	srv.registerTools(svc)

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all nine NSI verbs to the server as ten tools, verify
// being split into prepare and finalize.
func (s *Server) registerTools(svc *toolops.Service) {
	addTool(s, ToolNameConnect, connectToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in ConnectInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.Connect(ctx, connectRequest(in))
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameContext, contextToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in ContextInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.Context(ctx, contextRequest(in))
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameReadFile, readFileToolDescription, func(_ context.Context, _ *mcpsdk.CallToolRequest, in ReadFileInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.ReadFile(in.Session, in.Path)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameWriteFile, writeFileToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in WriteFileInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.WriteFile(ctx, in.Session, in.Path, []byte(in.Content))
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameSubmit, submitToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in SubmitInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.Submit(ctx, toolops.SubmitRequest{Session: in.Session, Intent: in.Intent, Verify: in.Verify})
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameSessionStatus, sessionStatusToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in SessionStatusInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.SessionStatus(ctx, in.Session)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameListFiles, listFilesToolDescription, func(_ context.Context, _ *mcpsdk.CallToolRequest, in ListFilesInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.ListFiles(in.Session, in.Prefix, in.OnlyModified)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameVerifyPrepare, verifyPrepareToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in VerifyPrepareInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.VerifyPrepare(ctx, in.ChangesetID)
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})

	addTool(s, ToolNameVerifyFinalize, verifyFinalizeToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in VerifyFinalizeInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		if err := svc.VerifyFinalize(ctx, in.ChangesetID, in.Passed); err != nil {
			return errorResult(err)
		}

		return jsonResult(map[string]bool{"ok": true})
	})

	addTool(s, ToolNameMerge, mergeToolDescription, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in MergeInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
		resp, err := svc.Merge(ctx, mergeRequest(in))
		if err != nil {
			return errorResult(err)
		}

		return jsonResult(resp)
	})
}

// addTool registers one generically-typed handler, wrapped with tracing and
// metrics, and tracks its name.
func addTool[Input any](s *Server, name, description string, handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error)) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, withMetrics(s.metrics, name, withTracing(s.tracer, name, handler)))

	s.trackTool(name)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	connectToolDescription = "Open a new isolated session workspace against a repository, " +
		"pinned to HEAD or an explicit base commit, and open its changeset."

	contextToolDescription = "Search the symbol index for relevant code, returning " +
		"workspace-aware source snippets and optional call-graph neighbors, fit to a token budget."

	readFileToolDescription = "Read a file's content as seen by this session: the overlay's " +
		"version if modified, otherwise the pinned base commit's version."

	writeFileToolDescription = "Write a file's full content into this session's overlay " +
		"and record it against the session's changeset."

	submitToolDescription = "Mark the session's changeset submitted and re-index every " +
		"changed file against the shared symbol index. With verify set, also run the " +
		"verification pipeline and report its verdict before returning."

	sessionStatusToolDescription = "Report a session's lifecycle state, overlay diagnostics, " +
		"affected symbols, and peer session count."

	listFilesToolDescription = "List the overlay-merged file tree, optionally filtered to a " +
		"path prefix or to only the files this session has touched."

	verifyPrepareToolDescription = "Begin verification for a changeset, transitioning it to " +
		"the verifying state."

	verifyFinalizeToolDescription = "Record a verification run's verdict, transitioning the " +
		"changeset to approved or rejected."

	mergeToolDescription = "Merge an approved changeset's overlay into the repository, " +
		"fast-forwarding or rebasing through the conflict analyzer as needed."
)
