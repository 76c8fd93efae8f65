package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
	"github.com/morbidity-triage-server/internal/middleware"
	"github.com/morbidity-triage-server/internal/pathology"
)

// respondError maps err onto an APIError body and status.
func respondError(c *gin.Context, err error) {
	status, apiErr := classifyError(err, c.GetString(middleware.CorrelationIDKey))
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apiErr)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest,
		domain.NewAPIError(domain.ErrInvalidInput, message, nil, c.GetString(middleware.CorrelationIDKey)))
}

func classifyError(err error, requestID string) (int, *domain.APIError) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, domain.NewAPIError(domain.ErrValidation, "Validation failed", verrs.Messages(), requestID)
	}

	switch {
	case errors.Is(err, ledger.ErrPatientNotFound),
		errors.Is(err, ledger.ErrPathologyNotFound),
		errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, domain.NewAPIError(domain.ErrNotFound, err.Error(), nil, requestID)

	case errors.Is(err, classification.ErrUnknownCategory),
		errors.Is(err, location.ErrUnknownSubRegion),
		errors.Is(err, location.ErrNoRegion):
		return http.StatusBadRequest, domain.NewAPIError(domain.ErrInvalidInput, err.Error(), nil, requestID)

	case errors.Is(err, pathology.ErrInvalidTransition),
		errors.Is(err, pathology.ErrNotInWorkflow),
		errors.Is(err, pathology.ErrNotConfirmed),
		errors.Is(err, classification.ErrClassificationInFlight),
		errors.Is(err, classification.ErrStaleResponse),
		errors.Is(err, classification.ErrNoClassification),
		errors.Is(err, location.ErrStaleSelection),
		errors.Is(err, location.ErrSubRegionsUnavailable),
		errors.Is(err, ErrNoPatient):
		return http.StatusConflict, domain.NewAPIError(domain.ErrConflict, err.Error(), nil, requestID)

	case errors.Is(err, domain.ErrNoResults):
		return http.StatusUnprocessableEntity, domain.NewAPIError(domain.ErrNoPredictions, domain.ErrNoResults.Error(), nil, requestID)

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.NewAPIError(domain.ErrExternalAPI, "Prediction service timed out", nil, requestID)
	}

	var netErr *domain.NetworkError
	var shapeErr *domain.DataShapeError
	if errors.As(err, &netErr) || errors.As(err, &shapeErr) {
		return http.StatusBadGateway, domain.NewAPIError(domain.ErrExternalAPI, err.Error(), nil, requestID)
	}

	return http.StatusInternalServerError, domain.NewAPIError(domain.ErrInternalServer, "Internal server error", nil, requestID)
}

// PredictionView is a prediction with its probability formatted for display.
type PredictionView struct {
	domain.Prediction
	Display string `json:"display"`
}

func viewPredictions(preds []domain.Prediction) []PredictionView {
	out := make([]PredictionView, 0, len(preds))
	for _, p := range preds {
		out = append(out, PredictionView{Prediction: p, Display: classification.FormatProbability(p.Probability)})
	}
	return out
}
