// Package mcp exposes the checkpoint storage engine as MCP tools over
// stdio, so capture-time producers (browser drivers) and validators can
// talk to one long-lived storage process.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/validate"
	"github.com/adam-jackson-cf/smoke-test-oracle/pkg/version"
)

// Server is the MCP server for smoke-test-oracle. It bridges MCP
// clients with the storage manager and validator.
type Server struct {
	mcp       *mcp.Server
	manager   *store.Manager
	validator *validate.Validator
	logger    *slog.Logger
}

// NewServer creates an MCP server over an initialized storage manager.
func NewServer(manager *store.Manager, validator *validate.Validator, logger *slog.Logger) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager:   manager,
		validator: validator,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "smoke-test-oracle",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// ConsoleEntryInput mirrors a captured console message.
type ConsoleEntryInput struct {
	Timestamp int64  `json:"timestamp,omitempty" jsonschema:"unix milliseconds of the message"`
	Level     string `json:"level" jsonschema:"log level: log, info, warn, error, debug"`
	Message   string `json:"message" jsonschema:"the console message text"`
}

// CaptureInput defines the input schema for the capture_checkpoint tool.
type CaptureInput struct {
	Name             string              `json:"name" jsonschema:"checkpoint name"`
	URL              string              `json:"url" jsonschema:"page URL the state was captured from"`
	HTML             string              `json:"html,omitempty" jsonschema:"raw page HTML to snapshot"`
	ScreenshotBase64 string              `json:"screenshot_base64,omitempty" jsonschema:"base64-encoded png/jpeg/webp screenshot"`
	ConsoleLogs      []ConsoleEntryInput `json:"console_logs,omitempty" jsonschema:"captured console entries"`
	Tags             []string            `json:"tags,omitempty" jsonschema:"user tags for the checkpoint"`
}

// CaptureOutput defines the output schema for the capture_checkpoint tool.
type CaptureOutput struct {
	ID        string `json:"id" jsonschema:"checkpoint id"`
	Name      string `json:"name" jsonschema:"checkpoint name"`
	Timestamp string `json:"timestamp" jsonschema:"capture time, RFC3339"`
}

// QueryInput defines the input schema for the query_checkpoints tool.
type QueryInput struct {
	URL   string `json:"url,omitempty" jsonschema:"filter by capture URL"`
	Name  string `json:"name,omitempty" jsonschema:"filter by checkpoint name"`
	Tag   string `json:"tag,omitempty" jsonschema:"filter by user tag"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
}

// CheckpointSummary is one query result row.
type CheckpointSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Timestamp     string `json:"timestamp"`
	HasScreenshot bool   `json:"has_screenshot"`
	HasDOM        bool   `json:"has_dom"`
	HasConsole    bool   `json:"has_console"`
}

// QueryOutput defines the output schema for the query_checkpoints tool.
type QueryOutput struct {
	Checkpoints []CheckpointSummary `json:"checkpoints" jsonschema:"matching checkpoints, newest first"`
}

// LoadInput defines the input schema for the load_checkpoint tool.
type LoadInput struct {
	Name string `json:"name,omitempty" jsonschema:"checkpoint name to load (most recent)"`
	ID   string `json:"id,omitempty" jsonschema:"checkpoint id to load"`
}

// LoadOutput defines the output schema for the load_checkpoint tool.
type LoadOutput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	HTML         string `json:"html,omitempty" jsonschema:"stored DOM snapshot"`
	ConsoleCount int    `json:"console_count" jsonschema:"number of stored console entries"`
	ErrorCount   int    `json:"error_count" jsonschema:"number of error-level entries"`
}

// ValidateInput defines the input schema for the validate_checkpoint tool.
type ValidateInput struct {
	Name string `json:"name" jsonschema:"checkpoint name to validate"`
	Spec string `json:"spec" jsonschema:"validation definition as a JSON document"`
}

// ValidateOutput defines the output schema for the validate_checkpoint tool.
type ValidateOutput struct {
	Passed  bool     `json:"passed"`
	Total   int      `json:"total"`
	Failed  int      `json:"failed"`
	Reasons []string `json:"reasons,omitempty" jsonschema:"messages of failed validations"`
}

// CompareInput defines the input schema for the compare_screenshots tool.
type CompareInput struct {
	ID1       string  `json:"id1" jsonschema:"first screenshot id"`
	ID2       string  `json:"id2" jsonschema:"second screenshot id"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"per-pixel tolerance in [0,1], default 0.1"`
}

// CompareOutput defines the output schema for the compare_screenshots tool.
type CompareOutput struct {
	DiffPercentage  float64 `json:"diff_percentage"`
	DifferentPixels int     `json:"different_pixels"`
	TotalPixels     int     `json:"total_pixels"`
}

// StatsInput defines the (empty) input schema for the storage_stats tool.
type StatsInput struct{}

// StatsOutput defines the output schema for the storage_stats tool.
type StatsOutput struct {
	Checkpoints int   `json:"checkpoints"`
	Screenshots int   `json:"screenshots"`
	DOMs        int   `json:"doms"`
	ConsoleLogs int   `json:"console_logs"`
	TotalSize   int64 `json:"total_size_bytes"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "capture_checkpoint",
		Description: "Store a page's observable state (HTML, screenshot, console logs) as a named checkpoint.",
	}, s.captureHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_checkpoints",
		Description: "List stored checkpoints by URL, name, or tag without loading payloads.",
	}, s.queryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "load_checkpoint",
		Description: "Load a checkpoint's manifest and payloads by name or id.",
	}, s.loadHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_checkpoint",
		Description: "Evaluate DOM, console, and visual validations against a stored checkpoint.",
	}, s.validateHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "compare_screenshots",
		Description: "Pixel-compare two stored screenshots of equal dimensions.",
	}, s.compareHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "storage_stats",
		Description: "Report artifact counts and total storage size.",
	}, s.statsHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 6))
}

func (s *Server) captureHandler(ctx context.Context, req *mcp.CallToolRequest, input CaptureInput) (
	*mcp.CallToolResult, CaptureOutput, error,
) {
	if input.Name == "" {
		return nil, CaptureOutput{}, fmt.Errorf("name is required")
	}

	capture := store.CaptureInput{
		Name: input.Name,
		URL:  input.URL,
		HTML: input.HTML,
		Tags: input.Tags,
	}
	if input.ScreenshotBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(input.ScreenshotBase64)
		if err != nil {
			return nil, CaptureOutput{}, fmt.Errorf("screenshot_base64 is not valid base64: %w", err)
		}
		capture.Screenshot = data
	}
	for _, e := range input.ConsoleLogs {
		capture.ConsoleLogs = append(capture.ConsoleLogs, store.ConsoleEntry{
			Timestamp: e.Timestamp,
			Level:     e.Level,
			Message:   e.Message,
		})
	}

	ref, err := s.manager.CaptureCheckpoint(ctx, capture)
	if err != nil {
		return nil, CaptureOutput{}, err
	}
	return nil, CaptureOutput{
		ID:        ref.Key(),
		Name:      input.Name,
		Timestamp: ref.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

func (s *Server) queryHandler(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult, QueryOutput, error,
) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	refs, err := s.manager.Checkpoints().Query(ctx, store.Filter{
		URL:   input.URL,
		Name:  input.Name,
		Tag:   input.Tag,
		Limit: limit,
	})
	if err != nil {
		return nil, QueryOutput{}, err
	}

	out := QueryOutput{Checkpoints: make([]CheckpointSummary, 0, len(refs))}
	for _, ref := range refs {
		out.Checkpoints = append(out.Checkpoints, CheckpointSummary{
			ID:            ref.Key(),
			Name:          ref.Tag(store.TagName),
			URL:           ref.Tag(store.TagURL),
			Timestamp:     ref.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			HasScreenshot: ref.Tag(store.TagHasScreenshot) == "true",
			HasDOM:        ref.Tag(store.TagHasDOM) == "true",
			HasConsole:    ref.Tag(store.TagHasConsole) == "true",
		})
	}
	return nil, out, nil
}

func (s *Server) loadHandler(ctx context.Context, req *mcp.CallToolRequest, input LoadInput) (
	*mcp.CallToolResult, LoadOutput, error,
) {
	ref, err := s.resolveCheckpoint(ctx, input.Name, input.ID)
	if err != nil {
		return nil, LoadOutput{}, err
	}

	loaded, err := s.manager.LoadCheckpoint(ctx, ref)
	if err != nil {
		return nil, LoadOutput{}, err
	}

	out := LoadOutput{
		ID:   ref.Key(),
		Name: loaded.Manifest.Name,
		URL:  loaded.Manifest.URL,
		HTML: loaded.DOM,
	}
	out.ConsoleCount = len(loaded.ConsoleLogs)
	for _, e := range loaded.ConsoleLogs {
		if e.Level == store.LevelError {
			out.ErrorCount++
		}
	}
	return nil, out, nil
}

func (s *Server) validateHandler(ctx context.Context, req *mcp.CallToolRequest, input ValidateInput) (
	*mcp.CallToolResult, ValidateOutput, error,
) {
	if s.validator == nil {
		return nil, ValidateOutput{}, fmt.Errorf("no validator configured")
	}

	var def validate.Definition
	if err := json.Unmarshal([]byte(input.Spec), &def); err != nil {
		return nil, ValidateOutput{}, fmt.Errorf("spec is not a valid validation definition: %w", err)
	}
	if def.Name == "" {
		def.Name = input.Name
	}

	ref, err := s.resolveCheckpoint(ctx, input.Name, "")
	if err != nil {
		return nil, ValidateOutput{}, err
	}
	manifest, err := s.manager.RetrieveCheckpoint(ctx, ref)
	if err != nil {
		return nil, ValidateOutput{}, err
	}

	refs := validate.Refs{}
	if id := manifest.State.DOMID; id != "" {
		refs.DOM, _ = s.manager.GetDOM(ctx, id)
	}
	if id := manifest.State.ScreenshotID; id != "" {
		refs.Screenshot, _ = s.manager.GetScreenshot(ctx, id)
	}
	if id := manifest.State.ConsoleID; id != "" {
		refs.Console, _ = s.manager.GetConsole(ctx, id)
	}

	report, err := s.validator.Validate(ctx, &def, refs)
	if err != nil {
		return nil, ValidateOutput{}, err
	}

	out := ValidateOutput{
		Passed: report.Passed,
		Total:  report.Summary.Total,
		Failed: report.Summary.Failed,
	}
	for _, r := range report.Validations {
		if !r.Passed {
			out.Reasons = append(out.Reasons, r.Message)
		}
	}
	return nil, out, nil
}

func (s *Server) compareHandler(ctx context.Context, req *mcp.CallToolRequest, input CompareInput) (
	*mcp.CallToolResult, CompareOutput, error,
) {
	ref1, err := s.manager.GetScreenshot(ctx, input.ID1)
	if err != nil {
		return nil, CompareOutput{}, err
	}
	ref2, err := s.manager.GetScreenshot(ctx, input.ID2)
	if err != nil {
		return nil, CompareOutput{}, err
	}

	result, err := s.manager.CompareScreenshots(ctx, ref1, ref2, store.CompareOptions{
		Threshold: input.Threshold,
	})
	if err != nil {
		return nil, CompareOutput{}, err
	}
	return nil, CompareOutput{
		DiffPercentage:  result.DiffPercentage,
		DifferentPixels: result.DifferentPixels,
		TotalPixels:     result.TotalPixels,
	}, nil
}

func (s *Server) statsHandler(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (
	*mcp.CallToolResult, StatsOutput, error,
) {
	stats, err := s.manager.GetStats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, StatsOutput{
		Checkpoints: stats.Checkpoints,
		Screenshots: stats.Screenshots,
		DOMs:        stats.DOMs,
		ConsoleLogs: stats.ConsoleLogs,
		TotalSize:   stats.TotalSize,
	}, nil
}

func (s *Server) resolveCheckpoint(ctx context.Context, name, id string) (*store.StorageRef, error) {
	if id != "" {
		return s.manager.Checkpoints().Get(ctx, id)
	}
	if name == "" {
		return nil, fmt.Errorf("name or id is required")
	}
	ref, err := s.manager.GetCheckpointByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("no checkpoint named %q", name)
	}
	return ref, nil
}

// Serve starts the server on the given transport. Only stdio is
// supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
