package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/location"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoPatient is returned when a session operation needs a patient.
var ErrNoPatient = errors.New("session is not bound to a patient")

// Session is one classification form: its location selection, its
// two-stage reconciler and the demographic fields typed so far.
type Session struct {
	ID        string
	PatientID int64
	CreatedAt time.Time

	Selection  *location.Selection
	Reconciler *classification.Reconciler

	mu   sync.Mutex
	form domain.FormValues
}

// Form returns the current form with region and sub-region taken from the
// selection.
func (s *Session) Form() domain.FormValues {
	s.mu.Lock()
	f := s.form
	s.mu.Unlock()
	f.Region, f.SubRegion = s.Selection.Current()
	return f
}

// Merge overwrites the demographic fields that are set in update.
func (s *Session) Merge(update domain.FormValues) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(update.Age) != "" {
		s.form.Age = update.Age
	}
	if update.Gender != "" {
		s.form.Gender = update.Gender
	}
	if update.Ethnicity != "" {
		s.form.Ethnicity = update.Ethnicity
	}
	if update.Source != "" {
		s.form.Source = update.Source
	}
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID             string                  `json:"id"`
	PatientID      int64                   `json:"patient_id,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	Form           domain.FormValues       `json:"form"`
	Location       location.SelectionState `json:"location"`
	Classification classification.Snapshot `json:"classification"`
	Predictions    []PredictionView        `json:"predictions"`
	Causes         []PredictionView        `json:"causes"`
}

// View snapshots the session.
func (s *Session) View() SessionView {
	snap := s.Reconciler.Snapshot()
	return SessionView{
		ID:             s.ID,
		PatientID:      s.PatientID,
		CreatedAt:      s.CreatedAt,
		Form:           s.Form(),
		Location:       s.Selection.State(),
		Classification: snap,
		Predictions:    viewPredictions(snap.Predictions),
		Causes:         viewPredictions(snap.Causes),
	}
}

// SessionRegistry keeps the most recently used sessions. The least recently
// used session is dropped when the registry is full.
type SessionRegistry struct {
	cache    *lru.Cache[string, *Session]
	resolver *location.Resolver
	oracle   classification.Oracle
	logger   *logrus.Logger
}

// NewSessionRegistry creates a registry holding at most size sessions.
func NewSessionRegistry(size int, resolver *location.Resolver, oracle classification.Oracle, logger *logrus.Logger) (*SessionRegistry, error) {
	if size <= 0 {
		size = 256
	}
	r := &SessionRegistry{
		resolver: resolver,
		oracle:   oracle,
		logger:   logger,
	}
	cache, err := lru.NewWithEvict[string, *Session](size, func(id string, _ *Session) {
		r.logger.WithField("session_id", id).Debug("Session evicted")
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Create starts a new session, optionally bound to a patient.
func (r *SessionRegistry) Create(patientID int64, form domain.FormValues) *Session {
	s := &Session{
		ID:         uuid.New().String(),
		PatientID:  patientID,
		CreatedAt:  time.Now().UTC(),
		Selection:  r.resolver.NewSelection(),
		Reconciler: classification.NewReconciler(r.oracle, r.logger),
	}
	s.Merge(form)
	r.cache.Add(s.ID, s)
	return s
}

// Get returns the session with id.
func (r *SessionRegistry) Get(id string) (*Session, error) {
	s, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	return r.cache.Len()
}
