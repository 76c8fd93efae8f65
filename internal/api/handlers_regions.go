package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleListRegions never fails on oracle errors; a degraded response
// carries the fallback list.
func (s *Server) handleListRegions(c *gin.Context) {
	regions, err := s.resolver.ListRegions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"regions":  regions,
		"degraded": s.resolver.Degraded(),
	})
}

func (s *Server) handleListSubRegions(c *gin.Context) {
	subRegions, err := s.resolver.ListSubRegions(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"region":      c.Param("code"),
		"sub_regions": subRegions,
	})
}
