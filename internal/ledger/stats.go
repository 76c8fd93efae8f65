package ledger

import (
	"sort"

	"github.com/morbidity-triage-server/internal/domain"
)

// topCategoryLimit bounds Stats.TopCategories.
const topCategoryLimit = 5

// StatusUntracked counts pathologies outside the review workflow.
const StatusUntracked = "untracked"

// CategoryCount is how often a category led a classification.
type CategoryCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats summarises the ledger.
type Stats struct {
	Patients            int             `json:"patients"`
	ActivePatients      int             `json:"active_patients"`
	PathologiesByStatus map[string]int  `json:"pathologies_by_status"`
	PathologiesByOrigin map[string]int  `json:"pathologies_by_origin"`
	Classifications     int             `json:"classifications"`
	TopCategories       []CategoryCount `json:"top_categories"`
}

// Stats computes counts over the current collection. A classification
// counts towards the category the clinician selected, or its most
// probable category when none was selected.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Patients: len(l.patients),
		PathologiesByStatus: map[string]int{
			string(domain.StatusPending):   0,
			string(domain.StatusConfirmed): 0,
			string(domain.StatusDiscarded): 0,
			StatusUntracked:                0,
		},
		PathologiesByOrigin: map[string]int{},
		TopCategories:       []CategoryCount{},
	}

	categories := map[string]int{}
	for i := range l.patients {
		p := &l.patients[i]
		if p.Status == domain.PatientActive {
			s.ActivePatients++
		}
		for _, path := range p.Pathologies {
			status := string(path.Status)
			if path.Status == domain.StatusNone {
				status = StatusUntracked
			}
			s.PathologiesByStatus[status]++
			origin := string(path.Origin)
			if origin == "" {
				origin = string(domain.OriginManual)
			}
			s.PathologiesByOrigin[origin]++
		}
		for _, rec := range p.Classifications {
			s.Classifications++
			if label := leadingCategory(rec); label != "" {
				categories[label]++
			}
		}
	}

	for label, n := range categories {
		s.TopCategories = append(s.TopCategories, CategoryCount{Label: label, Count: n})
	}
	sort.Slice(s.TopCategories, func(i, j int) bool {
		a, b := s.TopCategories[i], s.TopCategories[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Label < b.Label
	})
	if len(s.TopCategories) > topCategoryLimit {
		s.TopCategories = s.TopCategories[:topCategoryLimit]
	}
	return s
}

func leadingCategory(rec domain.ClassificationRecord) string {
	if rec.SelectedCategory != "" {
		return rec.SelectedCategory
	}
	var best *domain.Prediction
	for i := range rec.Categories {
		if best == nil || rec.Categories[i].Probability > best.Probability {
			best = &rec.Categories[i]
		}
	}
	if best == nil {
		return ""
	}
	return best.Label
}
