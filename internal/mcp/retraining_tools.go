package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/morbidity-triage-server/internal/feedback"
)

// ListRetrainingParams defines parameters for the list_retraining tool
type ListRetrainingParams struct {
	Limit  int `json:"limit,omitempty" jsonschema:"maximum entries to return, default 20"`
	Offset int `json:"offset,omitempty" jsonschema:"entries to skip"`
}

// ListRetrainingResult defines the result of list_retraining
type ListRetrainingResult struct {
	Submissions []*feedback.Submission `json:"submissions"`
	Total       int64                  `json:"total"`
}

// ExportRetrainingParams defines parameters for the export_retraining tool
type ExportRetrainingParams struct{}

// ExportRetrainingResult defines the result of export_retraining
type ExportRetrainingResult struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
}

// ImportRetrainingParams defines parameters for the import_retraining tool
type ImportRetrainingParams struct {
	FilePath string `json:"file_path" jsonschema:"path of a JSON file produced by export_retraining"`
}

// ImportRetrainingResult defines the result of import_retraining
type ImportRetrainingResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

func (s *Server) registerRetrainingTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_retraining",
		Description: "List confirmed pathologies submitted for model retraining, newest first",
	}, s.handleListRetraining)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_retraining",
		Description: "Export all retraining submissions to a JSON file in the data directory",
	}, s.handleExportRetraining)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "import_retraining",
		Description: "Import retraining submissions from a JSON export",
	}, s.handleImportRetraining)
}

func (s *Server) handleListRetraining(ctx context.Context, _ *mcp.CallToolRequest, params ListRetrainingParams) (*mcp.CallToolResult, ListRetrainingResult, error) {
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	subs, err := s.retraining.List(ctx, limit, offset)
	if err != nil {
		return s.createErrorResult("Failed to list retraining submissions", err), ListRetrainingResult{}, nil
	}
	total, err := s.retraining.Count(ctx)
	if err != nil {
		return s.createErrorResult("Failed to count retraining submissions", err), ListRetrainingResult{}, nil
	}
	if subs == nil {
		subs = []*feedback.Submission{}
	}
	return textResult(fmt.Sprintf("%d of %d retraining submissions", len(subs), total)),
		ListRetrainingResult{Submissions: subs, Total: total}, nil
}

func (s *Server) handleExportRetraining(ctx context.Context, _ *mcp.CallToolRequest, _ ExportRetrainingParams) (*mcp.CallToolResult, ExportRetrainingResult, error) {
	if s.exportDir == "" {
		return s.createErrorResult("Export unavailable", fmt.Errorf("no export directory configured")), ExportRetrainingResult{}, nil
	}
	if err := os.MkdirAll(s.exportDir, 0755); err != nil {
		return s.createErrorResult("Failed to create export directory", err), ExportRetrainingResult{}, nil
	}

	filename := fmt.Sprintf("retraining_export_%s.json", time.Now().Format("20060102_150405"))
	filePath := filepath.Join(s.exportDir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return s.createErrorResult("Failed to create export file", err), ExportRetrainingResult{}, nil
	}
	defer file.Close()

	if err := s.retraining.ExportJSON(ctx, file); err != nil {
		return s.createErrorResult("Failed to export retraining submissions", err), ExportRetrainingResult{}, nil
	}

	count, _ := s.retraining.Count(ctx)
	return textResult(fmt.Sprintf("Exported %d retraining submissions to %s", count, filePath)),
		ExportRetrainingResult{FilePath: filePath, Count: count}, nil
}

func (s *Server) handleImportRetraining(ctx context.Context, _ *mcp.CallToolRequest, params ImportRetrainingParams) (*mcp.CallToolResult, ImportRetrainingResult, error) {
	if params.FilePath == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("file_path is required")), ImportRetrainingResult{}, nil
	}
	file, err := os.Open(params.FilePath)
	if err != nil {
		return s.createErrorResult("Failed to open import file", err), ImportRetrainingResult{}, nil
	}
	defer file.Close()

	imported, skipped, err := s.retraining.ImportJSON(ctx, file)
	if err != nil {
		return s.createErrorResult("Failed to import retraining submissions", err), ImportRetrainingResult{}, nil
	}
	return textResult(fmt.Sprintf("Imported %d submissions, skipped %d", imported, skipped)),
		ImportRetrainingResult{Imported: imported, Skipped: skipped}, nil
}
