// Package feedback records confirmed pathologies that clinicians submit for
// model retraining. A submission has no effect on the ledger; the stored
// records are exported as JSON for the model owners.
package feedback

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/morbidity-triage-server/internal/domain"
)

// Submission is one pathology sent for retraining.
type Submission struct {
	ID            int64                     `json:"id,omitempty"`
	PatientID     int64                     `json:"patient_id"`
	PathologyCode string                    `json:"pathology_code,omitempty"`
	PathologyName string                    `json:"pathology_name"`
	Category      string                    `json:"category,omitempty"`
	Probability   *float64                  `json:"probability,omitempty"`
	Snapshot      *domain.PathologySnapshot `json:"snapshot,omitempty"`
	SubmittedBy   string                    `json:"submitted_by,omitempty"`
	SubmittedAt   time.Time                 `json:"submitted_at"`
}

// NewSubmission builds the record for pathology p of patient patientID.
func NewSubmission(patientID int64, p domain.Pathology, actor string, now time.Time) *Submission {
	s := &Submission{
		PatientID:     patientID,
		PathologyName: p.Name,
		Category:      p.Category,
		Probability:   p.ProbabilityValue,
		Snapshot:      p.Snapshot,
		SubmittedBy:   actor,
		SubmittedAt:   now.UTC(),
	}
	if p.Code != nil {
		s.PathologyCode = *p.Code
	}
	return s
}

// Store defines the interface for retraining submission storage.
type Store interface {
	// Save stores a submission. Submitting the same pathology of the same
	// patient again updates the existing record.
	Save(ctx context.Context, s *Submission) error

	// Get returns the submission for a patient pathology, or nil.
	Get(ctx context.Context, patientID int64, code, name string) (*Submission, error)

	// List returns submissions, newest first.
	List(ctx context.Context, limit, offset int) ([]*Submission, error)

	Count(ctx context.Context) (int64, error)

	Delete(ctx context.Context, id int64) error

	// ExportJSON writes every submission as a SubmissionExport document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads a SubmissionExport document, skipping records that
	// already exist.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// SubmissionExport represents the JSON export format.
type SubmissionExport struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	Count       int           `json:"count"`
	Submissions []*Submission `json:"submissions"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func encodeSnapshot(s *domain.PathologySnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func decodeSnapshot(raw []byte) (*domain.PathologySnapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s domain.PathologySnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func exportJSON(ctx context.Context, store Store, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return err
	}
	if all == nil {
		all = []*Submission{}
	}

	export := &SubmissionExport{
		Version:     "1.0",
		ExportedAt:  time.Now(),
		Count:       len(all),
		Submissions: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export SubmissionExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, err
	}

	for _, s := range export.Submissions {
		existing, err := store.Get(ctx, s.PatientID, s.PathologyCode, s.PathologyName)
		if err != nil {
			return imported, skipped, err
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := store.Save(ctx, s); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}
