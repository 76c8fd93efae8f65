package ledger

import "github.com/morbidity-triage-server/internal/domain"

func clonePatient(p domain.Patient) domain.Patient {
	out := p
	out.Pathologies = make([]domain.Pathology, len(p.Pathologies))
	for i := range p.Pathologies {
		out.Pathologies[i] = clonePathology(p.Pathologies[i])
	}
	out.Classifications = make([]domain.ClassificationRecord, len(p.Classifications))
	for i := range p.Classifications {
		out.Classifications[i] = cloneRecord(p.Classifications[i])
	}
	return out
}

func clonePathology(p domain.Pathology) domain.Pathology {
	out := p
	if p.Code != nil {
		code := *p.Code
		out.Code = &code
	}
	if p.ProbabilityValue != nil {
		v := *p.ProbabilityValue
		out.ProbabilityValue = &v
	}
	if p.Snapshot != nil {
		s := *p.Snapshot
		out.Snapshot = &s
	}
	return out
}

func cloneRecord(r domain.ClassificationRecord) domain.ClassificationRecord {
	out := r
	if r.Categories != nil {
		out.Categories = append([]domain.Prediction(nil), r.Categories...)
	}
	if r.Causes != nil {
		out.Causes = append([]domain.Prediction(nil), r.Causes...)
	}
	return out
}
