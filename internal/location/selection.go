package location

import (
	"context"
	"errors"
	"sync"

	"github.com/morbidity-triage-server/internal/domain"
)

var (
	// ErrStaleSelection is returned when a sub-region list arrives for a
	// region that is no longer selected. The list is discarded.
	ErrStaleSelection = errors.New("region selection changed while loading sub-regions")
	// ErrNoRegion is returned when a sub-region is picked before a region.
	ErrNoRegion = errors.New("no region selected")
	// ErrUnknownSubRegion is returned for a code missing from the loaded list.
	ErrUnknownSubRegion = errors.New("sub-region does not belong to the selected region")
	// ErrSubRegionsUnavailable is returned when a sub-region is picked while
	// the list is loading or after loading it failed.
	ErrSubRegionsUnavailable = errors.New("sub-region list is not available")
)

// SelectionState is a point-in-time view of a Selection.
type SelectionState struct {
	Region     string          `json:"region"`
	SubRegion  string          `json:"sub_region"`
	SubRegions []domain.Region `json:"sub_regions"`
	Loading    bool            `json:"loading"`
}

// Selection tracks the region and sub-region picked on one form. Only the
// response to the most recent SelectRegion call is applied.
type Selection struct {
	resolver *Resolver

	mu         sync.Mutex
	generation uint64
	region     string
	subRegion  string
	subRegions []domain.Region
	loading    bool
	loadErr    error
}

// SelectRegion picks a region, clears the sub-region and loads the
// sub-region list.
func (s *Selection) SelectRegion(ctx context.Context, code string) ([]domain.Region, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.region = code
	s.subRegion = ""
	s.subRegions = nil
	s.loading = code != ""
	s.loadErr = nil
	s.mu.Unlock()

	if code == "" {
		return nil, nil
	}

	list, err := s.resolver.ListSubRegions(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrStaleSelection
	}
	s.loading = false
	if err != nil {
		s.loadErr = err
		return nil, err
	}
	s.subRegions = list
	return cloneRegions(list), nil
}

// SelectSubRegion picks a sub-region from the loaded list of the current
// region. An empty code clears the pick.
func (s *Selection) SelectSubRegion(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region == "" {
		return ErrNoRegion
	}
	if code != "" {
		if s.loading || s.loadErr != nil {
			return ErrSubRegionsUnavailable
		}
		if !containsCode(s.subRegions, code) {
			return ErrUnknownSubRegion
		}
	}
	s.subRegion = code
	return nil
}

// SubRegions returns the loaded sub-region list.
func (s *Selection) SubRegions() []domain.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRegions(s.subRegions)
}

// Current returns the selected region and sub-region codes.
func (s *Selection) Current() (region, subRegion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region, s.subRegion
}

// State returns a snapshot of the selection.
func (s *Selection) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SelectionState{
		Region:     s.region,
		SubRegion:  s.subRegion,
		SubRegions: cloneRegions(s.subRegions),
		Loading:    s.loading,
	}
}

func containsCode(list []domain.Region, code string) bool {
	for _, r := range list {
		if r.Code == code {
			return true
		}
	}
	return false
}
