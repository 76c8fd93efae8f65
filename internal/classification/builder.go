// Package classification turns classification form input into oracle
// requests and reconciles the two-stage category/cause predictions.
package classification

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/morbidity-triage-server/internal/domain"
)

// Validation messages shown to the user, in form order.
const (
	MsgAge       = "La edad debe ser un número mayor a 0"
	MsgGender    = "Debe seleccionar el género"
	MsgEthnicity = "Debe seleccionar la pertenencia étnica"
	MsgSource    = "Debe seleccionar la fuente"
	MsgRegion    = "Debe seleccionar el departamento de residencia"
	MsgSubRegion = "Debe seleccionar el municipio de residencia"
)

// Validate checks the required form fields. Every failing rule is reported,
// in form order.
func Validate(form domain.FormValues) domain.ValidationErrors {
	var errs domain.ValidationErrors

	if age, ok := parseCode(form.Age); !ok || age <= 0 {
		errs = append(errs, domain.NewValidationError("edad", MsgAge, form.Age))
	}
	if g := domain.Gender(strings.TrimSpace(form.Gender)); g != domain.GenderMale && g != domain.GenderFemale {
		errs = append(errs, domain.NewValidationError("genero", MsgGender, form.Gender))
	}
	if !domain.Ethnicity(strings.TrimSpace(form.Ethnicity)).Valid() {
		errs = append(errs, domain.NewValidationError("ppertenencia", MsgEthnicity, form.Ethnicity))
	}
	if strings.TrimSpace(form.Source) == "" {
		errs = append(errs, domain.NewValidationError("fuente", MsgSource, form.Source))
	}
	if _, ok := parseCode(form.Region); !ok {
		errs = append(errs, domain.NewValidationError("deptoresiden", MsgRegion, form.Region))
	}
	if _, ok := parseCode(form.SubRegion); !ok {
		errs = append(errs, domain.NewValidationError("muniresiden", MsgSubRegion, form.SubRegion))
	}
	return errs
}

// Build validates form and coerces it into the oracle request shape.
// On failure the returned error is a domain.ValidationErrors with every
// problem found.
func Build(form domain.FormValues) (domain.RequestPayload, error) {
	if errs := Validate(form); len(errs) > 0 {
		return domain.RequestPayload{}, errs
	}
	age, _ := parseCode(form.Age)
	gender, _ := parseCode(form.Gender)
	ethnicity, _ := parseCode(form.Ethnicity)
	region, _ := parseCode(form.Region)
	subRegion, _ := parseCode(form.SubRegion)

	return domain.RequestPayload{
		Edad:         age,
		Genero:       gender,
		Ppertenencia: ethnicity,
		Fuente:       strings.TrimSpace(form.Source),
		Deptoresiden: region,
		Muniresiden:  subRegion,
	}, nil
}

// CausePayload extends a first-stage payload with the normalized category.
func CausePayload(payload domain.RequestPayload, category string) domain.CauseRequestPayload {
	return domain.CauseRequestPayload{
		RequestPayload: payload,
		Categoria:      NormalizeCategory(category),
	}
}

// NormalizeCategory produces the canonical category key the oracle looks up:
// accents removed, lower case, everything but letters, digits and
// whitespace stripped, whitespace collapsed. It is idempotent.
func NormalizeCategory(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	// Dropping a character can leave composable letters adjacent
	return norm.NFC.String(strings.Join(strings.Fields(b.String()), " "))
}

func parseCode(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
