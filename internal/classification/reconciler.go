package classification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/domain"
)

// Oracle is the part of the oracle client the reconciler needs.
type Oracle interface {
	Predict(ctx context.Context, payload domain.RequestPayload) ([]byte, error)
	PredictCausas(ctx context.Context, payload domain.CauseRequestPayload) ([]byte, error)
}

// State is the request state of one classification stage.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateError   State = "error"
)

var (
	ErrClassificationInFlight = errors.New("a classification is already in progress")
	ErrStaleResponse          = errors.New("response superseded by a newer selection")
	ErrNoClassification       = errors.New("no successful classification to select from")
	ErrUnknownCategory        = errors.New("category is not among the current predictions")
)

// Snapshot is a point-in-time view of a Reconciler.
type Snapshot struct {
	State            State                  `json:"state"`
	Message          string                 `json:"message,omitempty"`
	Payload          *domain.RequestPayload `json:"payload,omitempty"`
	Predictions      []domain.Prediction    `json:"predictions"`
	SelectedCategory string                 `json:"selected_category,omitempty"`
	CauseState       State                  `json:"cause_state"`
	CauseMessage     string                 `json:"cause_message,omitempty"`
	Causes           []domain.Prediction    `json:"causes"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Reconciler drives the category then cause call sequence for one form.
// It is safe for concurrent use; no lock is held across oracle calls.
type Reconciler struct {
	oracle Oracle
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	snap     Snapshot
	causeGen uint64
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock replaces time.Now.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates an idle reconciler. Timeouts are enforced by the
// oracle client.
func NewReconciler(oracle Oracle, logger *logrus.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Reconciler{
		oracle: oracle,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snap = Snapshot{State: StateIdle, CauseState: StateIdle, UpdatedAt: r.now()}
	return r
}

// Classify requests category predictions for payload. A call made while a
// previous one is loading is rejected. Any cause selection is cleared and
// in-flight cause calls become stale.
func (r *Reconciler) Classify(ctx context.Context, payload domain.RequestPayload) ([]domain.Prediction, error) {
	r.mu.Lock()
	if r.snap.State == StateLoading {
		r.mu.Unlock()
		return nil, ErrClassificationInFlight
	}
	r.causeGen++
	p := payload
	r.snap = Snapshot{
		State:      StateLoading,
		Payload:    &p,
		CauseState: StateIdle,
		UpdatedAt:  r.now(),
	}
	r.mu.Unlock()

	preds, err := r.fetch(ctx, domain.KindCategory, func(ctx context.Context) ([]byte, error) {
		return r.oracle.Predict(ctx, payload)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Payload != &p {
		// Reset while loading
		return nil, ErrStaleResponse
	}
	r.snap.UpdatedAt = r.now()
	if err != nil {
		r.snap.State = StateError
		r.snap.Message = userMessage(err)
		r.logger.WithError(err).Warn("Category classification failed")
		return nil, err
	}
	r.snap.State = StateSuccess
	r.snap.Predictions = preds
	r.logger.WithField("predictions", len(preds)).Debug("Category classification completed")
	return clonePredictions(preds), nil
}

// SelectCategory requests the causes within category. Only the most recent
// selection is applied; an older call still in flight returns
// ErrStaleResponse when it completes.
func (r *Reconciler) SelectCategory(ctx context.Context, category string) ([]domain.Prediction, error) {
	r.mu.Lock()
	if r.snap.State != StateSuccess || r.snap.Payload == nil {
		r.mu.Unlock()
		return nil, ErrNoClassification
	}
	if !hasCategory(r.snap.Predictions, category) {
		r.mu.Unlock()
		return nil, ErrUnknownCategory
	}
	r.causeGen++
	gen := r.causeGen
	r.snap.SelectedCategory = category
	r.snap.Causes = nil
	r.snap.CauseState = StateLoading
	r.snap.CauseMessage = ""
	payload := CausePayload(*r.snap.Payload, category)
	r.mu.Unlock()

	causes, err := r.fetch(ctx, domain.KindCause, func(ctx context.Context) ([]byte, error) {
		return r.oracle.PredictCausas(ctx, payload)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.causeGen {
		r.logger.WithField("category", category).Debug("Discarding stale cause response")
		return nil, ErrStaleResponse
	}
	r.snap.UpdatedAt = r.now()
	if err != nil {
		r.snap.CauseState = StateError
		r.snap.CauseMessage = userMessage(err)
		r.logger.WithError(err).WithField("category", category).Warn("Cause classification failed")
		return nil, err
	}
	r.snap.CauseState = StateSuccess
	r.snap.Causes = causes
	return clonePredictions(causes), nil
}

// TopCategory returns the most probable category of the last success.
// Ties keep the oracle's order.
func (r *Reconciler) TopCategory() (domain.Prediction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State != StateSuccess || len(r.snap.Predictions) == 0 {
		return domain.Prediction{}, false
	}
	top := r.snap.Predictions[0]
	for _, p := range r.snap.Predictions[1:] {
		if p.Probability > top.Probability {
			top = p
		}
	}
	return top, true
}

// Category returns the current prediction labelled category.
func (r *Reconciler) Category(category string) (domain.Prediction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.snap.Predictions {
		if p.Label == category {
			return p, true
		}
	}
	return domain.Prediction{}, false
}

// Reset returns to idle and invalidates in-flight cause calls.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causeGen++
	r.snap = Snapshot{State: StateIdle, CauseState: StateIdle, UpdatedAt: r.now()}
}

// Snapshot returns a copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	if s.Payload != nil {
		p := *s.Payload
		s.Payload = &p
	}
	s.Predictions = clonePredictions(s.Predictions)
	s.Causes = clonePredictions(s.Causes)
	return s
}

// fetch calls the oracle and decodes the response. Empty or malformed
// responses become domain.ErrNoResults.
func (r *Reconciler) fetch(ctx context.Context, kind domain.PredictionKind, call func(ctx context.Context) ([]byte, error)) ([]domain.Prediction, error) {
	body, err := call(ctx)
	if err != nil {
		return nil, err
	}

	preds, err := DecodePredictions(body, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoResults, err)
	}
	if len(preds) == 0 {
		return nil, domain.ErrNoResults
	}
	return preds, nil
}

func userMessage(err error) string {
	if errors.Is(err, domain.ErrNoResults) {
		return "No se pudieron obtener predicciones del modelo"
	}
	return "Error al procesar la clasificación: " + err.Error()
}

func hasCategory(preds []domain.Prediction, category string) bool {
	for _, p := range preds {
		if p.Label == category {
			return true
		}
	}
	return false
}

func clonePredictions(in []domain.Prediction) []domain.Prediction {
	if in == nil {
		return nil
	}
	out := make([]domain.Prediction, len(in))
	copy(out, in)
	return out
}
