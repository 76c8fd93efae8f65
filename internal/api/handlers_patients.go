package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/pathology"
)

// AddPathologyRequest is the body of a manual pathology entry.
type AddPathologyRequest struct {
	Name        string `json:"name"`
	Probability string `json:"probability"`
	Notes       string `json:"notes"`
}

func patientID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid patient id")
		return 0, false
	}
	return id, true
}

func pathologyIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		badRequest(c, "invalid pathology index")
		return 0, false
	}
	return index, true
}

func (s *Server) handleListPatients(c *gin.Context) {
	patients := s.ledger.Search(c.Query("q"))
	c.JSON(http.StatusOK, gin.H{
		"patients": patients,
		"count":    len(patients),
	})
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var draft domain.PatientDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		badRequest(c, "invalid patient body: "+err.Error())
		return
	}
	patient, err := s.ledger.Create(c.Request.Context(), draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleGetPatient(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	patient, err := s.ledger.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient":        patient,
		"region_name":    s.resolver.RegionName(c.Request.Context(), patient.Region),
		"subregion_name": s.resolver.SubRegionName(c.Request.Context(), patient.Region, patient.SubRegion),
	})
}

func (s *Server) handleUpdatePatient(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	var req domain.PatientUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid patient body: "+err.Error())
		return
	}
	updated, err := s.ledger.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleAddPathology(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	var req AddPathologyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid pathology body: "+err.Error())
		return
	}
	p, err := pathology.NewManual(req.Name, req.Probability, req.Notes, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	patient, err := s.ledger.AddPathology(c.Request.Context(), id, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleRemovePathology(c *gin.Context) {
	s.pathologyAction(c, s.ledger.RemovePathology)
}

func (s *Server) handleConfirmPathology(c *gin.Context) {
	s.pathologyAction(c, s.ledger.ConfirmPathology)
}

func (s *Server) handleDiscardPathology(c *gin.Context) {
	s.pathologyAction(c, s.ledger.DiscardPathology)
}

func (s *Server) pathologyAction(c *gin.Context, action func(ctx context.Context, id int64, index int) (domain.Patient, error)) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	index, ok := pathologyIndex(c)
	if !ok {
		return
	}
	patient, err := action(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleRetrainPathology(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}
	index, ok := pathologyIndex(c)
	if !ok {
		return
	}
	msg, err := s.ledger.SubmitForRetraining(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Stats())
}

func (s *Server) handleListRetraining(c *gin.Context) {
	if s.retraining == nil {
		c.JSON(http.StatusOK, gin.H{"submissions": []interface{}{}, "total": 0})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		badRequest(c, "limit must be between 1 and 500")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}

	ctx := c.Request.Context()
	subs, err := s.retraining.List(ctx, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := s.retraining.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	if subs == nil {
		subs = []*feedback.Submission{}
	}
	c.JSON(http.StatusOK, gin.H{
		"submissions": subs,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}
