package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
)

// ListRegionsParams defines parameters for the list_regions tool
type ListRegionsParams struct{}

// ListRegionsResult defines the result structure for the list_regions tool
type ListRegionsResult struct {
	Regions  []domain.Region `json:"regions"`
	Degraded bool            `json:"degraded"`
}

// ListSubRegionsParams defines parameters for the list_subregions tool
type ListSubRegionsParams struct {
	Region string `json:"region" jsonschema:"department code, e.g. 1 for Guatemala"`
}

// ListSubRegionsResult defines the result structure for the list_subregions tool
type ListSubRegionsResult struct {
	Region     string          `json:"region"`
	SubRegions []domain.Region `json:"sub_regions"`
}

// SearchPatientsParams defines parameters for the search_patients tool
type SearchPatientsParams struct {
	Query string `json:"query,omitempty" jsonschema:"name or DPI fragment; empty lists everyone"`
}

// PatientSummary is the compact patient shape returned by search_patients.
type PatientSummary struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Age                int    `json:"age"`
	NationalID         string `json:"national_id"`
	Region             string `json:"region"`
	SubRegion          string `json:"sub_region"`
	Pathologies        int    `json:"pathologies"`
	LastClassification string `json:"last_classification,omitempty"`
}

// SearchPatientsResult defines the result structure for the search_patients tool
type SearchPatientsResult struct {
	Patients []PatientSummary `json:"patients"`
}

// ClassifyPatientParams defines parameters for the classify_patient tool
type ClassifyPatientParams struct {
	PatientID int64  `json:"patient_id" jsonschema:"ledger id of the patient"`
	Category  string `json:"category,omitempty" jsonschema:"category to expand into causes; defaults to the most probable"`
}

// ScoredPrediction is a prediction with its display probability.
type ScoredPrediction struct {
	Label       string  `json:"label"`
	Code        string  `json:"code,omitempty"`
	Probability float64 `json:"probability"`
	Display     string  `json:"display"`
}

// ClassifyPatientResult defines the result structure for the classify_patient tool
type ClassifyPatientResult struct {
	PatientID        int64              `json:"patient_id"`
	Categories       []ScoredPrediction `json:"categories"`
	SelectedCategory string             `json:"selected_category,omitempty"`
	Causes           []ScoredPrediction `json:"causes"`
	CauseError       string             `json:"cause_error,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_regions",
		Description: "List the departments (first-level regions) known to the prediction service",
	}, s.handleListRegions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_subregions",
		Description: "List the municipalities of a department",
	}, s.handleListSubRegions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_patients",
		Description: "Search registered patients by name or national ID (DPI)",
	}, s.handleSearchPatients)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_patient",
		Description: "Classify a registered patient into morbidity categories and the causes of one category; the result is stored in the patient's history",
	}, s.handleClassifyPatient)
}

func (s *Server) handleListRegions(ctx context.Context, _ *mcp.CallToolRequest, _ ListRegionsParams) (*mcp.CallToolResult, ListRegionsResult, error) {
	s.logger.WithField("tool", "list_regions").Info("Tool invoked")

	regions, err := s.resolver.ListRegions(ctx)
	if err != nil {
		return s.createErrorResult("Failed to list regions", err), ListRegionsResult{}, nil
	}
	result := ListRegionsResult{Regions: regions, Degraded: s.resolver.Degraded()}

	text := fmt.Sprintf("%d departments available", len(regions))
	if result.Degraded {
		text += " (fallback list; prediction service unreachable)"
	}
	return textResult(text), result, nil
}

func (s *Server) handleListSubRegions(ctx context.Context, _ *mcp.CallToolRequest, params ListSubRegionsParams) (*mcp.CallToolResult, ListSubRegionsResult, error) {
	s.logger.WithField("tool", "list_subregions").Info("Tool invoked")

	if strings.TrimSpace(params.Region) == "" {
		return s.createErrorResult("Missing required parameter", errors.New("region is required")), ListSubRegionsResult{}, nil
	}
	subRegions, err := s.resolver.ListSubRegions(ctx, params.Region)
	if err != nil {
		return s.createErrorResult("Failed to list municipalities", err), ListSubRegionsResult{}, nil
	}
	if subRegions == nil {
		subRegions = []domain.Region{}
	}
	name := s.resolver.RegionName(ctx, params.Region)
	return textResult(fmt.Sprintf("%d municipalities in %s", len(subRegions), name)),
		ListSubRegionsResult{Region: params.Region, SubRegions: subRegions}, nil
}

func (s *Server) handleSearchPatients(_ context.Context, _ *mcp.CallToolRequest, params SearchPatientsParams) (*mcp.CallToolResult, SearchPatientsResult, error) {
	s.logger.WithField("tool", "search_patients").Info("Tool invoked")

	patients := s.ledger.Search(params.Query)
	result := SearchPatientsResult{Patients: make([]PatientSummary, 0, len(patients))}
	for _, p := range patients {
		result.Patients = append(result.Patients, PatientSummary{
			ID:                 p.ID,
			Name:               p.Name,
			Age:                p.Age,
			NationalID:         p.NationalID,
			Region:             p.Region,
			SubRegion:          p.SubRegion,
			Pathologies:        len(p.Pathologies),
			LastClassification: p.LastClassification,
		})
	}
	return textResult(fmt.Sprintf("%d patients match %q", len(result.Patients), params.Query)), result, nil
}

func (s *Server) handleClassifyPatient(ctx context.Context, _ *mcp.CallToolRequest, params ClassifyPatientParams) (*mcp.CallToolResult, ClassifyPatientResult, error) {
	log := s.logger.WithFields(logrus.Fields{"tool": "classify_patient", "patient_id": params.PatientID})
	log.Info("Tool invoked")

	patient, err := s.ledger.Get(params.PatientID)
	if err != nil {
		return s.createErrorResult("Unknown patient", err), ClassifyPatientResult{}, nil
	}
	form := patient.Form()
	payload, err := classification.Build(form)
	if err != nil {
		return s.createErrorResult("Patient record is incomplete", err), ClassifyPatientResult{}, nil
	}

	rec := classification.NewReconciler(s.oracle, s.logger)
	categories, err := rec.Classify(ctx, payload)
	if err != nil {
		return s.createErrorResult(rec.Snapshot().Message, err), ClassifyPatientResult{}, nil
	}
	if _, err := s.ledger.AppendClassification(ctx, patient.ID, domain.ClassificationRecord{Form: form, Categories: categories}); err != nil {
		log.WithError(err).Error("Failed to record classification")
	}

	result := ClassifyPatientResult{
		PatientID:  patient.ID,
		Categories: scored(categories),
		Causes:     []ScoredPrediction{},
	}

	selected := params.Category
	if selected == "" {
		top, _ := rec.TopCategory()
		selected = top.Label
	}
	causes, err := rec.SelectCategory(ctx, selected)
	result.SelectedCategory = selected
	if err != nil {
		result.CauseError = err.Error()
		if msg := rec.Snapshot().CauseMessage; msg != "" {
			result.CauseError = msg
		}
	} else {
		result.Causes = scored(causes)
		if _, err := s.ledger.AppendClassification(ctx, patient.ID, domain.ClassificationRecord{
			Form:             form,
			Categories:       categories,
			SelectedCategory: selected,
			Causes:           causes,
		}); err != nil {
			log.WithError(err).Error("Failed to record cause classification")
		}
	}

	return textResult(summarize(patient.Name, result)), result, nil
}

func scored(preds []domain.Prediction) []ScoredPrediction {
	out := make([]ScoredPrediction, 0, len(preds))
	for _, p := range preds {
		out = append(out, ScoredPrediction{
			Label:       p.Label,
			Code:        p.Code,
			Probability: p.Probability,
			Display:     classification.FormatProbability(p.Probability),
		})
	}
	return out
}

func summarize(name string, r ClassifyPatientResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classification for %s:\n", name)
	for _, c := range r.Categories {
		fmt.Fprintf(&b, "- %s: %s%%\n", c.Label, c.Display)
	}
	if r.CauseError != "" {
		fmt.Fprintf(&b, "Causes for %s unavailable: %s\n", r.SelectedCategory, r.CauseError)
		return b.String()
	}
	fmt.Fprintf(&b, "Causes within %s:\n", r.SelectedCategory)
	for _, c := range r.Causes {
		fmt.Fprintf(&b, "- %s (%s): %s%%\n", c.Label, c.Code, c.Display)
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// createErrorResult reports a tool-level failure to the client.
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	s.logger.WithError(err).Warn(message)

	text := fmt.Sprintf("%s: %v", message, err)
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		text = fmt.Sprintf("%s: %s", message, strings.Join(verrs.Messages(), "; "))
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
