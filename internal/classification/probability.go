package classification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/morbidity-triage-server/internal/domain"
)

const maxProbability = 100

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// SanitizeProbability extracts the probability of one raw prediction record.
// It reads "prob", falling back to "probabilidad" when prob is absent, null,
// zero, NaN or empty. Strings are parsed by their numeric prefix. Anything
// unusable counts as 0 and the result is clamped to [0,100]. The oracle
// already reports percentages, so no scaling is applied.
func SanitizeProbability(record map[string]interface{}) float64 {
	if record == nil {
		return 0
	}
	v := toNumber(record["prob"])
	if v == 0 || math.IsNaN(v) {
		v = toNumber(record["probabilidad"])
	}
	return clampProbability(v)
}

// FormatProbability renders a sanitized probability with one decimal.
func FormatProbability(p float64) string {
	return strconv.FormatFloat(clampProbability(p), 'f', 1, 64)
}

func clampProbability(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > maxProbability:
		return maxProbability
	}
	return v
}

func toNumber(v interface{}) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return parseNumericPrefix(n.String())
		}
		return f
	case string:
		return parseNumericPrefix(n)
	default:
		return 0
	}
}

func parseNumericPrefix(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "infinity", "inf":
		if strings.HasPrefix(s, "-") {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0
	}
	// Out of range literals come back as ±Inf, which the caller clamps.
	f, _ := strconv.ParseFloat(m, 64)
	return f
}

type predictionEnvelope struct {
	Success     *bool           `json:"success"`
	Predictions json.RawMessage `json:"predictions"`
	Error       string          `json:"error"`
}

// DecodePredictions converts a raw oracle response into canonical
// predictions, preserving the oracle's order. A response that is not the
// expected envelope yields a *domain.DataShapeError. Non-object entries and
// entries without a label are skipped.
func DecodePredictions(body []byte, kind domain.PredictionKind) ([]domain.Prediction, error) {
	op := "predict"
	if kind == domain.KindCause {
		op = "predict_causas"
	}

	var env predictionEnvelope
	if err := decodeNumbers(body, &env); err != nil {
		return nil, &domain.DataShapeError{Op: op, Reason: err.Error()}
	}
	if env.Success != nil && !*env.Success {
		reason := "success=false"
		if env.Error != "" {
			reason = env.Error
		}
		return nil, &domain.DataShapeError{Op: op, Reason: reason}
	}
	raw := bytes.TrimSpace(env.Predictions)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &domain.DataShapeError{Op: op, Reason: "missing predictions"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &domain.DataShapeError{Op: op, Reason: "predictions is not a list"}
	}

	out := make([]domain.Prediction, 0, len(items))
	for _, item := range items {
		var record map[string]interface{}
		if err := decodeNumbers(item, &record); err != nil || record == nil {
			continue
		}
		if p, ok := predictionFrom(record, kind); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func predictionFrom(record map[string]interface{}, kind domain.PredictionKind) (domain.Prediction, bool) {
	p := domain.Prediction{
		Kind:        kind,
		Probability: SanitizeProbability(record),
		Description: toText(record["descripcion"]),
	}
	switch kind {
	case domain.KindCause:
		p.Code = toText(record["caufin"])
		p.Label = p.Description
		if p.Label == "" {
			p.Label = p.Code
		}
	default:
		p.Label = toText(record["categoria"])
	}
	return p, p.Label != ""
}

func toText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func decodeNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
