// Package domain contains the core entities of the morbidity triage workflow:
// patients, their pathologies and classification history, and the predictions
// returned by the external classification oracle.
//
// Category and cause labels follow the ICD-10 (CIE-10) grouping used by the
// oracle; probabilities are always expressed on a 0-100 scale.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for every date stamp in the ledger.
const DateLayout = "2006-01-02"

// Today formats t as a ledger date.
func Today(t time.Time) string {
	return t.Format(DateLayout)
}

// Gender is the binary gender code expected by the oracle.
type Gender string

const (
	GenderMale   Gender = "1"
	GenderFemale Gender = "2"
)

// Label returns the display label for the gender code.
func (g Gender) Label() string {
	if g == GenderMale {
		return "Hombre"
	}
	return "Mujer"
}

// Ethnicity is the ethnic-belonging code (pertenencia étnica).
type Ethnicity string

const (
	EthnicityMaya     Ethnicity = "1"
	EthnicityGarifuna Ethnicity = "2"
	EthnicityXinka    Ethnicity = "3"
	EthnicityMestizo  Ethnicity = "4"
	EthnicityOther    Ethnicity = "5"
)

var ethnicityLabels = map[Ethnicity]string{
	EthnicityMaya:     "Maya",
	EthnicityGarifuna: "Garífuna",
	EthnicityXinka:    "Xinka",
	EthnicityMestizo:  "Mestizo/Ladino",
	EthnicityOther:    "Otro",
}

// Label returns the display label, or "No especificado" for unknown codes.
func (e Ethnicity) Label() string {
	if l, ok := ethnicityLabels[e]; ok {
		return l
	}
	return "No especificado"
}

// Valid reports whether e is one of the five known codes.
func (e Ethnicity) Valid() bool {
	_, ok := ethnicityLabels[e]
	return ok
}

// Source is the data source of a consultation.
type Source string

const (
	SourceInternal Source = "interna"
	SourceExternal Source = "externa"
)

// PatientStatus is the administrative status of a patient record.
type PatientStatus string

const PatientActive PatientStatus = "activo"

// Region is one entry of the administrative hierarchy: a department
// (departamento) or a municipality (municipio).
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Patient is a locally registered patient with its pathology and
// classification history.
type Patient struct {
	ID                 int64                  `json:"id"`
	Name               string                 `json:"name"`
	Age                int                    `json:"age"`
	Gender             Gender                 `json:"gender"`
	Ethnicity          Ethnicity              `json:"ethnicity"`
	Source             Source                 `json:"source"`
	Region             string                 `json:"region"`
	SubRegion          string                 `json:"sub_region"`
	Phone              string                 `json:"phone,omitempty"`
	NationalID         string                 `json:"national_id"`
	Notes              string                 `json:"notes,omitempty"`
	RegisteredOn       string                 `json:"registered_on"`
	LastVisit          string                 `json:"last_visit"`
	LastClassification string                 `json:"last_classification,omitempty"`
	Status             PatientStatus          `json:"status"`
	Pathologies        []Pathology            `json:"pathologies"`
	Classifications    []ClassificationRecord `json:"classifications"`
}

// Form returns the classification form prefilled from the patient.
func (p *Patient) Form() FormValues {
	return FormValues{
		Age:       fmt.Sprintf("%d", p.Age),
		Gender:    string(p.Gender),
		Ethnicity: string(p.Ethnicity),
		Source:    string(p.Source),
		Region:    p.Region,
		SubRegion: p.SubRegion,
	}
}

// PatientDraft carries the user-entered fields of a new patient.
type PatientDraft struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	Ethnicity  string `json:"ethnicity"`
	Source     string `json:"source"`
	Region     string `json:"region"`
	SubRegion  string `json:"sub_region"`
	Phone      string `json:"phone,omitempty"`
	NationalID string `json:"national_id"`
	Notes      string `json:"notes,omitempty"`
}

// PatientUpdate is an edit of a registered patient. An empty Status keeps
// the stored one.
type PatientUpdate struct {
	PatientDraft
	Status PatientStatus `json:"status,omitempty"`
}

// PathologyStatus is the review state of a pathology entry.
// The empty status marks legacy or manual entries outside the review workflow.
type PathologyStatus string

const (
	StatusNone      PathologyStatus = ""
	StatusPending   PathologyStatus = "pending"
	StatusConfirmed PathologyStatus = "confirmed"
	StatusDiscarded PathologyStatus = "discarded"
)

// PathologyOrigin records how a pathology entered the ledger.
type PathologyOrigin string

const (
	OriginClassifier PathologyOrigin = "ai_classification"
	OriginManual     PathologyOrigin = "manual"
)

// Qualitative probability buckets for manual entries.
const (
	LikelihoodHigh   = "Alta"
	LikelihoodMedium = "Media"
	LikelihoodLow    = "Baja"
)

// ManualCategory is the category label of manually entered pathologies.
const ManualCategory = "Manual"

// Pathology is a diagnosis attached to a patient.
type Pathology struct {
	Code             *string            `json:"code"`
	Name             string             `json:"name"`
	Probability      string             `json:"probability,omitempty"`
	ProbabilityValue *float64           `json:"probability_value,omitempty"`
	Category         string             `json:"category,omitempty"`
	Status           PathologyStatus    `json:"status,omitempty"`
	Origin           PathologyOrigin    `json:"origin,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	AddedOn          string             `json:"added_on,omitempty"`
	ConfirmedOn      string             `json:"confirmed_on,omitempty"`
	ConfirmedBy      string             `json:"confirmed_by,omitempty"`
	DiscardedOn      string             `json:"discarded_on,omitempty"`
	DiscardedBy      string             `json:"discarded_by,omitempty"`
	Snapshot         *PathologySnapshot `json:"snapshot,omitempty"`
}

// PathologySnapshot keeps the form and category that produced a suggestion.
type PathologySnapshot struct {
	Form      FormValues `json:"form"`
	Category  Prediction `json:"category"`
	Timestamp time.Time  `json:"timestamp"`
}

// InWorkflow reports whether the entry participates in confirm/discard review.
func (p *Pathology) InWorkflow() bool {
	return p.Status != StatusNone
}

// UnmarshalJSON migrates legacy entries stored as a bare string.
func (p *Pathology) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*p = Pathology{Name: name}
		return nil
	}
	type plain Pathology
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Pathology(v)
	return nil
}

// PredictionKind tags a prediction as first-stage or second-stage output.
type PredictionKind string

const (
	KindCategory PredictionKind = "category"
	KindCause    PredictionKind = "cause"
)

// Prediction is the canonical shape of one oracle result. Probability is on
// a 0-100 scale and already sanitized.
type Prediction struct {
	Kind        PredictionKind `json:"kind"`
	Label       string         `json:"label"`
	Probability float64        `json:"probability"`
	Description string         `json:"description,omitempty"`
	Code        string         `json:"code,omitempty"`
}

// ClassificationRecord is one entry of a patient's classification history.
// Records are append-only.
type ClassificationRecord struct {
	ID               int64        `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	Form             FormValues   `json:"form"`
	Categories       []Prediction `json:"categories"`
	SelectedCategory string       `json:"selected_category,omitempty"`
	Causes           []Prediction `json:"causes,omitempty"`
}

// FormValues are the raw classification form fields as entered by the user.
type FormValues struct {
	Age       string `json:"edad"`
	Gender    string `json:"genero"`
	Ethnicity string `json:"ppertenencia"`
	Source    string `json:"fuente"`
	Region    string `json:"deptoresiden"`
	SubRegion string `json:"muniresiden"`
}

// RequestPayload is the body of POST /api/predict.
type RequestPayload struct {
	Edad         int    `json:"edad"`
	Genero       int    `json:"genero"`
	Ppertenencia int    `json:"ppertenencia"`
	Fuente       string `json:"fuente"`
	Deptoresiden int    `json:"deptoresiden"`
	Muniresiden  int    `json:"muniresiden"`
}

// Form returns the form values the payload was built from.
func (p RequestPayload) Form() FormValues {
	return FormValues{
		Age:       strconv.Itoa(p.Edad),
		Gender:    strconv.Itoa(p.Genero),
		Ethnicity: strconv.Itoa(p.Ppertenencia),
		Source:    p.Fuente,
		Region:    strconv.Itoa(p.Deptoresiden),
		SubRegion: strconv.Itoa(p.Muniresiden),
	}
}

// CauseRequestPayload is the body of POST /api/predict_causas.
type CauseRequestPayload struct {
	RequestPayload
	Categoria string `json:"categoria"`
}
