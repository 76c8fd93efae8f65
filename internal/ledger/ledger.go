// Package ledger is the persisted collection of patients with their
// pathology and classification history. The whole collection is stored as
// one JSON document and rewritten after every mutation.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/pathology"
	"github.com/morbidity-triage-server/internal/storage"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrPathologyNotFound = errors.New("pathology not found")
)

// Validation messages for the patient-only fields.
const (
	MsgName       = "El nombre es obligatorio"
	MsgNationalID = "El DPI es obligatorio"
)

// DefaultActor labels transitions when no authenticated user is known.
const DefaultActor = "Dr. Usuario"

// Ledger owns the patient collection. It is safe for concurrent use within
// one process; several processes writing the same store will overwrite
// each other.
type Ledger struct {
	mu       sync.Mutex
	store    domain.KVStore
	logger   *logrus.Logger
	now      func() time.Time
	actor    string
	sink     feedback.Store
	patients []domain.Patient
	lastID   int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithActor sets the label stamped on confirmations and discards.
func WithActor(actor string) Option {
	return func(l *Ledger) {
		if actor != "" {
			l.actor = actor
		}
	}
}

// WithRetrainingSink records retraining submissions in s.
func WithRetrainingSink(s feedback.Store) Option {
	return func(l *Ledger) { l.sink = s }
}

// Open loads the collection from store. A missing document is an empty
// ledger; an unreadable or corrupt one is an error.
func Open(ctx context.Context, store domain.KVStore, logger *logrus.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
		actor:  DefaultActor,
	}
	for _, opt := range opts {
		opt(l)
	}

	raw, ok, err := store.Get(ctx, storage.KeyPatients)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &l.patients); err != nil {
			return nil, fmt.Errorf("decode patients: %w", err)
		}
	}
	for i := range l.patients {
		normalize(&l.patients[i])
		if l.patients[i].ID > l.lastID {
			l.lastID = l.patients[i].ID
		}
	}

	l.logger.WithFields(logrus.Fields{
		"patients": len(l.patients),
		"last_id":  l.lastID,
	}).Info("Patient ledger loaded")

	return l, nil
}

// List returns a copy of every patient in insertion order.
func (l *Ledger) List() []domain.Patient {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Patient, 0, len(l.patients))
	for i := range l.patients {
		out = append(out, clonePatient(l.patients[i]))
	}
	return out
}

// Get returns a copy of the patient with the given id.
func (l *Ledger) Get(id int64) (domain.Patient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return domain.Patient{}, ErrPatientNotFound
	}
	return clonePatient(l.patients[i]), nil
}

// Search matches term case-insensitively against the name, or as a
// substring of the national ID. An empty term matches everyone.
func (l *Ledger) Search(term string) []domain.Patient {
	term = strings.ToLower(strings.TrimSpace(term))

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Patient, 0)
	for i := range l.patients {
		p := &l.patients[i]
		if term == "" ||
			strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.NationalID), term) {
			out = append(out, clonePatient(*p))
		}
	}
	return out
}

// ValidateDraft checks every required patient field and reports all
// failures in form order.
func ValidateDraft(d domain.PatientDraft) domain.ValidationErrors {
	var errs domain.ValidationErrors
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, domain.NewValidationError("nombre", MsgName, d.Name))
	}
	errs = append(errs, classification.Validate(domain.FormValues{
		Age:       strconv.Itoa(d.Age),
		Gender:    d.Gender,
		Ethnicity: d.Ethnicity,
		Source:    d.Source,
		Region:    d.Region,
		SubRegion: d.SubRegion,
	})...)
	if strings.TrimSpace(d.NationalID) == "" {
		errs = append(errs, domain.NewValidationError("dpi", MsgNationalID, d.NationalID))
	}
	return errs
}

// Create validates draft and appends a new active patient. Nothing is
// appended when validation fails.
func (l *Ledger) Create(ctx context.Context, draft domain.PatientDraft) (domain.Patient, error) {
	if errs := ValidateDraft(draft); len(errs) > 0 {
		return domain.Patient{}, errs
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	today := domain.Today(now)
	p := domain.Patient{
		ID:              l.nextID(ctx, now),
		Name:            strings.TrimSpace(draft.Name),
		Age:             draft.Age,
		Gender:          domain.Gender(strings.TrimSpace(draft.Gender)),
		Ethnicity:       domain.Ethnicity(strings.TrimSpace(draft.Ethnicity)),
		Source:          domain.Source(strings.TrimSpace(draft.Source)),
		Region:          strings.TrimSpace(draft.Region),
		SubRegion:       strings.TrimSpace(draft.SubRegion),
		Phone:           strings.TrimSpace(draft.Phone),
		NationalID:      strings.TrimSpace(draft.NationalID),
		Notes:           draft.Notes,
		RegisteredOn:    today,
		LastVisit:       today,
		Status:          domain.PatientActive,
		Pathologies:     []domain.Pathology{},
		Classifications: []domain.ClassificationRecord{},
	}
	l.patients = append(l.patients, p)
	l.persist(ctx)

	l.logger.WithFields(logrus.Fields{
		"patient_id": p.ID,
		"region":     p.Region,
	}).Info("Patient registered")

	return clonePatient(p), nil
}

// Update replaces the demographic fields and status of patient id.
// Pathologies, classification history and registration dates are owned by
// the ledger and cannot be changed here.
func (l *Ledger) Update(ctx context.Context, id int64, upd domain.PatientUpdate) (domain.Patient, error) {
	if errs := ValidateDraft(upd.PatientDraft); len(errs) > 0 {
		return domain.Patient{}, errs
	}
	return l.mutate(ctx, id, func(p *domain.Patient) error {
		d := upd.PatientDraft
		p.Name = strings.TrimSpace(d.Name)
		p.Age = d.Age
		p.Gender = domain.Gender(strings.TrimSpace(d.Gender))
		p.Ethnicity = domain.Ethnicity(strings.TrimSpace(d.Ethnicity))
		p.Source = domain.Source(strings.TrimSpace(d.Source))
		p.Region = strings.TrimSpace(d.Region)
		p.SubRegion = strings.TrimSpace(d.SubRegion)
		p.Phone = strings.TrimSpace(d.Phone)
		p.NationalID = strings.TrimSpace(d.NationalID)
		p.Notes = d.Notes
		if status := strings.TrimSpace(string(upd.Status)); status != "" {
			p.Status = domain.PatientStatus(status)
		}
		return nil
	})
}

// AddPathology appends p to the patient's pathologies.
func (l *Ledger) AddPathology(ctx context.Context, id int64, p domain.Pathology) (domain.Patient, error) {
	return l.mutate(ctx, id, func(patient *domain.Patient) error {
		if p.AddedOn == "" {
			p.AddedOn = domain.Today(l.now())
		}
		patient.Pathologies = append(patient.Pathologies, clonePathology(p))
		return nil
	})
}

// RemovePathology deletes the pathology at index.
func (l *Ledger) RemovePathology(ctx context.Context, id int64, index int) (domain.Patient, error) {
	return l.mutate(ctx, id, func(patient *domain.Patient) error {
		if index < 0 || index >= len(patient.Pathologies) {
			return ErrPathologyNotFound
		}
		patient.Pathologies = append(patient.Pathologies[:index:index], patient.Pathologies[index+1:]...)
		return nil
	})
}

// ConfirmPathology moves a pending pathology to confirmed.
func (l *Ledger) ConfirmPathology(ctx context.Context, id int64, index int) (domain.Patient, error) {
	return l.transition(ctx, id, index, domain.StatusConfirmed)
}

// DiscardPathology moves a pending pathology to discarded.
func (l *Ledger) DiscardPathology(ctx context.Context, id int64, index int) (domain.Patient, error) {
	return l.transition(ctx, id, index, domain.StatusDiscarded)
}

func (l *Ledger) transition(ctx context.Context, id int64, index int, to domain.PathologyStatus) (domain.Patient, error) {
	return l.mutate(ctx, id, func(patient *domain.Patient) error {
		if index < 0 || index >= len(patient.Pathologies) {
			return ErrPathologyNotFound
		}
		return pathology.Transition(&patient.Pathologies[index], to, l.actor, l.now())
	})
}

// PromoteCause adds a cause prediction as a pending pathology carrying the
// classification context that produced it.
func (l *Ledger) PromoteCause(ctx context.Context, id int64, cause, category domain.Prediction, form domain.FormValues) (domain.Patient, string, error) {
	p := pathology.NewFromCause(cause, category, form, l.now())
	patient, err := l.AddPathology(ctx, id, p)
	if err != nil {
		return domain.Patient{}, "", err
	}
	return patient, fmt.Sprintf("Patología %q agregada como pendiente de verificación", p.Name), nil
}

// SubmitForRetraining records a confirmed pathology for model retraining
// and returns the message shown to the user. The pathology is unchanged.
func (l *Ledger) SubmitForRetraining(ctx context.Context, id int64, index int) (string, error) {
	l.mu.Lock()
	i := l.indexOf(id)
	if i < 0 {
		l.mu.Unlock()
		return "", ErrPatientNotFound
	}
	if index < 0 || index >= len(l.patients[i].Pathologies) {
		l.mu.Unlock()
		return "", ErrPathologyNotFound
	}
	p := clonePathology(l.patients[i].Pathologies[index])
	l.mu.Unlock()

	if !pathology.CanSubmitForRetraining(p) {
		return "", pathology.ErrNotConfirmed
	}

	if l.sink != nil {
		if err := l.sink.Save(ctx, feedback.NewSubmission(id, p, l.actor, l.now())); err != nil {
			return "", fmt.Errorf("record retraining submission: %w", err)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"patient_id": id,
		"pathology":  p.Name,
		"category":   p.Category,
	}).Info("Pathology submitted for retraining")

	return pathology.RetrainingMessage(p), nil
}

// AppendClassification adds rec to the patient's history and returns it
// with its assigned id.
func (l *Ledger) AppendClassification(ctx context.Context, id int64, rec domain.ClassificationRecord) (domain.ClassificationRecord, error) {
	var stored domain.ClassificationRecord
	_, err := l.mutate(ctx, id, func(patient *domain.Patient) error {
		now := l.now()
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now.UTC()
		}
		rec.ID = now.UnixMilli()
		for _, existing := range patient.Classifications {
			if existing.ID >= rec.ID {
				rec.ID = existing.ID + 1
			}
		}
		stored = cloneRecord(rec)
		patient.Classifications = append(patient.Classifications, stored)
		patient.LastClassification = domain.Today(now)
		return nil
	})
	if err != nil {
		return domain.ClassificationRecord{}, err
	}
	return cloneRecord(stored), nil
}

// mutate applies fn to the stored patient and persists the collection when
// fn succeeds.
func (l *Ledger) mutate(ctx context.Context, id int64, fn func(*domain.Patient) error) (domain.Patient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return domain.Patient{}, ErrPatientNotFound
	}
	if err := fn(&l.patients[i]); err != nil {
		return domain.Patient{}, err
	}
	l.persist(ctx)
	return clonePatient(l.patients[i]), nil
}

func (l *Ledger) indexOf(id int64) int {
	for i := range l.patients {
		if l.patients[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole collection. Failures are logged and the
// in-memory state is kept. Callers hold l.mu.
func (l *Ledger) persist(ctx context.Context) {
	raw, err := json.Marshal(l.patients)
	if err == nil {
		err = l.store.Set(ctx, storage.KeyPatients, raw)
	}
	if err != nil {
		perr := &domain.PersistenceError{Key: storage.KeyPatients, Err: err}
		l.logger.WithError(perr).Error("Failed to persist patient ledger")
	}
}

// nextID issues the next patient id from the stored counter. When the
// counter is unavailable or behind an id already issued, the id comes from
// the clock instead. Callers hold l.mu.
func (l *Ledger) nextID(ctx context.Context, now time.Time) int64 {
	var id int64
	counter, err := l.readCounter(ctx)
	switch {
	case err != nil:
		l.logger.WithError(err).Warn("Patient counter unavailable, using timestamp id")
	case counter+1 <= l.lastID:
		l.logger.WithFields(logrus.Fields{
			"counter": counter,
			"last_id": l.lastID,
		}).Warn("Patient counter behind issued ids, using timestamp id")
	default:
		id = counter + 1
	}
	if id == 0 {
		id = now.UnixMilli()
		if id <= l.lastID {
			id = l.lastID + 1
		}
	}

	if err := l.store.Set(ctx, storage.KeyPatientCounter, []byte(strconv.FormatInt(id, 10))); err != nil {
		perr := &domain.PersistenceError{Key: storage.KeyPatientCounter, Err: err}
		l.logger.WithError(perr).Error("Failed to persist patient counter")
	}
	l.lastID = id
	return id
}

func (l *Ledger) readCounter(ctx context.Context) (int64, error) {
	raw, ok, err := l.store.Get(ctx, storage.KeyPatientCounter)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", raw, err)
	}
	return n, nil
}

func normalize(p *domain.Patient) {
	if p.Pathologies == nil {
		p.Pathologies = []domain.Pathology{}
	}
	if p.Classifications == nil {
		p.Classifications = []domain.ClassificationRecord{}
	}
}
