// Package pathology holds the review workflow of pathology entries:
// pending entries are either confirmed or discarded, and neither outcome
// can be undone.
package pathology

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
)

var (
	// ErrInvalidTransition is returned for any move other than
	// pending -> confirmed or pending -> discarded.
	ErrInvalidTransition = errors.New("invalid pathology status transition")
	// ErrNotInWorkflow is returned for entries without a status.
	ErrNotInWorkflow = errors.New("pathology does not participate in the review workflow")
	// ErrNotConfirmed is returned when submitting an unconfirmed entry for retraining.
	ErrNotConfirmed = errors.New("only confirmed pathologies can be submitted for retraining")
)

var transitions = map[domain.PathologyStatus][]domain.PathologyStatus{
	domain.StatusPending: {domain.StatusConfirmed, domain.StatusDiscarded},
}

// Allowed reports whether from -> to is a legal transition.
func Allowed(from, to domain.PathologyStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves p to status to, stamping the date and actor. p is left
// untouched when the move is rejected.
func Transition(p *domain.Pathology, to domain.PathologyStatus, actor string, now time.Time) error {
	if !p.InWorkflow() {
		return ErrNotInWorkflow
	}
	if !Allowed(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}

	date := domain.Today(now)
	switch to {
	case domain.StatusConfirmed:
		p.ConfirmedOn = date
		p.ConfirmedBy = actor
	case domain.StatusDiscarded:
		p.DiscardedOn = date
		p.DiscardedBy = actor
	}
	p.Status = to
	return nil
}

// CanSubmitForRetraining reports whether p may be sent for model retraining.
func CanSubmitForRetraining(p domain.Pathology) bool {
	return p.Status == domain.StatusConfirmed
}

// RetrainingMessage is the confirmation shown after a submission.
func RetrainingMessage(p domain.Pathology) string {
	return fmt.Sprintf("Los datos de \"%s\" han sido enviados para el reentrenamiento del modelo. ¡Gracias por contribuir a mejorar el sistema!", p.Name)
}

// NewManual creates a clinician-entered pathology. It starts pending.
// An empty probability defaults to the medium bucket.
func NewManual(name, probability, notes string, now time.Time) (domain.Pathology, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Pathology{}, domain.ValidationErrors{
			domain.NewValidationError("name", "El nombre de la patología es obligatorio", name),
		}
	}
	switch probability {
	case "":
		probability = domain.LikelihoodMedium
	case domain.LikelihoodHigh, domain.LikelihoodMedium, domain.LikelihoodLow:
	default:
		return domain.Pathology{}, domain.ValidationErrors{
			domain.NewValidationError("probability", "La probabilidad debe ser Alta, Media o Baja", probability),
		}
	}
	if strings.TrimSpace(notes) == "" {
		notes = "Agregada manualmente por el médico"
	}
	return domain.Pathology{
		Name:        name,
		Probability: probability,
		Category:    domain.ManualCategory,
		Status:      domain.StatusPending,
		Origin:      domain.OriginManual,
		Notes:       notes,
		AddedOn:     domain.Today(now),
	}, nil
}

// NewFromCause creates a pending pathology from a cause prediction, keeping
// the form and category that produced it.
func NewFromCause(cause domain.Prediction, category domain.Prediction, form domain.FormValues, now time.Time) domain.Pathology {
	prob := cause.Probability
	formatted := classification.FormatProbability(prob)
	var code *string
	if cause.Code != "" {
		c := cause.Code
		code = &c
	}
	name := cause.Description
	if name == "" {
		name = cause.Label
	}
	return domain.Pathology{
		Code:             code,
		Name:             name,
		Probability:      formatted,
		ProbabilityValue: &prob,
		Category:         category.Label,
		Status:           domain.StatusPending,
		Origin:           domain.OriginClassifier,
		Notes:            fmt.Sprintf("Sugerida por IA con %s%% de probabilidad", formatted),
		AddedOn:          domain.Today(now),
		Snapshot: &domain.PathologySnapshot{
			Form:      form,
			Category:  category,
			Timestamp: now.UTC(),
		},
	}
}
