package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
)

// CreateSessionRequest opens a classification form, optionally prefilled
// from a registered patient.
type CreateSessionRequest struct {
	PatientID int64             `json:"patient_id"`
	Form      domain.FormValues `json:"form"`
}

// CodeRequest carries a region or sub-region code.
type CodeRequest struct {
	Code string `json:"code"`
}

// CategoryRequest selects a category from the current predictions.
type CategoryRequest struct {
	Category string `json:"category"`
}

// PromoteRequest names the cause to add to the session's patient, by code
// or label.
type PromoteRequest struct {
	Cause string `json:"cause" binding:"required"`
}

func (s *Server) session(c *gin.Context) (*Session, bool) {
	sess, err := s.sessions.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid session body: "+err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	form := req.Form
	if req.PatientID != 0 {
		patient, err := s.ledger.Get(req.PatientID)
		if err != nil {
			respondError(c, err)
			return
		}
		form = patient.Form()
	}

	sess := s.sessions.Create(req.PatientID, form)
	s.metrics.activeSessions.Set(float64(s.sessions.Len()))

	if form.Region != "" {
		if _, err := sess.Selection.SelectRegion(ctx, form.Region); err != nil {
			s.logger.WithError(err).WithField("session_id", sess.ID).Warn("Failed to preload sub-regions")
		} else if form.SubRegion != "" {
			if err := sess.Selection.SelectSubRegion(form.SubRegion); err != nil {
				s.logger.WithError(err).WithField("session_id", sess.ID).Warn("Stored sub-region not in current list")
			}
		}
	}

	c.JSON(http.StatusCreated, sess.View())
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

func (s *Server) handleSelectRegion(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid region body: "+err.Error())
		return
	}
	subRegions, err := sess.Selection.SelectRegion(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	if subRegions == nil {
		subRegions = []domain.Region{}
	}
	c.JSON(http.StatusOK, gin.H{
		"region":      req.Code,
		"sub_regions": subRegions,
	})
}

func (s *Server) handleSelectSubRegion(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid sub-region body: "+err.Error())
		return
	}
	if err := sess.Selection.SelectSubRegion(req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Selection.State())
}

// handleClassify runs the category stage. The body may update the
// demographic fields; region and sub-region come from the selection.
func (s *Server) handleClassify(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var update domain.FormValues
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&update); err != nil {
			badRequest(c, "invalid form body: "+err.Error())
			return
		}
	}
	sess.Merge(update)
	form := sess.Form()

	payload, err := classification.Build(form)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	preds, err := sess.Reconciler.Classify(ctx, payload)
	s.metrics.observeClassification("category", err)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"status":     domain.StatusCode(err),
		}).WithError(err).Warn("Classification failed")
		respondError(c, err)
		return
	}

	resp := gin.H{
		"predictions": viewPredictions(preds),
	}
	if top, ok := sess.Reconciler.TopCategory(); ok {
		resp["top_category"] = top.Label
	}

	if sess.PatientID != 0 {
		rec, err := s.ledger.AppendClassification(ctx, sess.PatientID, domain.ClassificationRecord{
			Form:       form,
			Categories: preds,
		})
		if err != nil {
			s.logger.WithError(err).WithField("patient_id", sess.PatientID).Error("Failed to record classification")
		} else {
			resp["record_id"] = rec.ID
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSelectCategory(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid category body: "+err.Error())
		return
	}
	if req.Category == "" {
		top, ok := sess.Reconciler.TopCategory()
		if !ok {
			respondError(c, classification.ErrNoClassification)
			return
		}
		req.Category = top.Label
	}

	ctx := c.Request.Context()
	causes, err := sess.Reconciler.SelectCategory(ctx, req.Category)
	s.metrics.observeClassification("cause", err)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"category": req.Category,
		"causes":   viewPredictions(causes),
	}

	if sess.PatientID != 0 {
		snap := sess.Reconciler.Snapshot()
		rec, err := s.ledger.AppendClassification(ctx, sess.PatientID, domain.ClassificationRecord{
			Form:             classifiedForm(snap, sess),
			Categories:       snap.Predictions,
			SelectedCategory: req.Category,
			Causes:           causes,
		})
		if err != nil {
			s.logger.WithError(err).WithField("patient_id", sess.PatientID).Error("Failed to record cause classification")
		} else {
			resp["record_id"] = rec.ID
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePromoteCause(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if sess.PatientID == 0 {
		respondError(c, ErrNoPatient)
		return
	}
	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid promote body: "+err.Error())
		return
	}

	snap := sess.Reconciler.Snapshot()
	category, ok := sess.Reconciler.Category(snap.SelectedCategory)
	if !ok {
		respondError(c, classification.ErrNoClassification)
		return
	}
	var cause *domain.Prediction
	for i := range snap.Causes {
		if snap.Causes[i].Code == req.Cause || snap.Causes[i].Label == req.Cause {
			cause = &snap.Causes[i]
			break
		}
	}
	if cause == nil {
		badRequest(c, "cause is not among the current predictions")
		return
	}

	patient, msg, err := s.ledger.PromoteCause(c.Request.Context(), sess.PatientID, *cause, category, classifiedForm(snap, sess))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
		"patient": patient,
	})
}

// classifiedForm is the form the current predictions were computed from.
// The session's selection may have moved on since.
func classifiedForm(snap classification.Snapshot, sess *Session) domain.FormValues {
	if snap.Payload != nil {
		return snap.Payload.Form()
	}
	return sess.Form()
}
