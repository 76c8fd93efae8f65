// Package external contains the HTTP client for the remote classification
// oracle: department and municipality lookups plus the two prediction stages.
package external

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/morbidity-triage-server/internal/domain"
)

// Oracle is the remote prediction service as seen by the workflow.
// Prediction calls return the raw response body; decoding and probability
// sanitization happen at the ingestion boundary in the classification package.
type Oracle interface {
	Departamentos(ctx context.Context) ([]domain.Region, error)
	Municipios(ctx context.Context, departamentoID string) ([]domain.Region, error)
	Predict(ctx context.Context, payload domain.RequestPayload) ([]byte, error)
	PredictCausas(ctx context.Context, payload domain.CauseRequestPayload) ([]byte, error)
}

// AreaID accepts both numeric and string identifiers.
type AreaID string

// UnmarshalJSON implements json.Unmarshaler.
func (a *AreaID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*a = AreaID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*a = AreaID(strconv.FormatInt(i, 10))
		return nil
	}
	*a = AreaID(n.String())
	return nil
}

// Area is one department or municipality as returned by the oracle.
type Area struct {
	ID     AreaID `json:"id"`
	Nombre string `json:"nombre"`
}

// AreaResponse is the envelope of /api/departamentos and /api/municipios/{id}.
type AreaResponse struct {
	Success bool   `json:"success"`
	Data    []Area `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Regions converts the envelope data, skipping entries without an id.
func (r *AreaResponse) Regions() []domain.Region {
	out := make([]domain.Region, 0, len(r.Data))
	for _, a := range r.Data {
		if a.ID == "" {
			continue
		}
		out = append(out, domain.Region{Code: string(a.ID), Name: a.Nombre})
	}
	return out
}
