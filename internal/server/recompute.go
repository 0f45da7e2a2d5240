package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	"github.com/smallbiznis/bigdeal/pkg/db/pagination"
)

type recomputeRequest struct {
	Email string `json:"email"`
}

// RequestRecompute accepts the job and returns before any member is computed.
func (s *Server) RequestRecompute(c *gin.Context) {
	var req recomputeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	job, err := s.recomputeSvc.Enqueue(c.Request.Context(), recomputedomain.EnqueueRequest{
		ScenarioID: scenarioID(c),
		Email:      strings.TrimSpace(req.Email),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

func (s *Server) GetRecomputeStatus(c *gin.Context) {
	status, err := s.dashboardSvc.RecomputeStatus(c.Request.Context(), scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) ListRecomputeJobs(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.recomputeSvc.ListJobs(c.Request.Context(), recomputedomain.ListJobsRequest{
		ScenarioID: scenarioID(c),
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetRecomputeJob(c *gin.Context) {
	job, err := s.recomputeSvc.GetJob(c.Request.Context(), scenarioID(c), c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

type copyScenarioRequest struct {
	TargetScenarioID string `json:"target_scenario_id"`
}

func (s *Server) CopyScenario(c *gin.Context) {
	var req copyScenarioRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.recomputeSvc.CopyScenario(c.Request.Context(), recomputedomain.CopyRequest{
		SourceScenarioID: scenarioID(c),
		TargetScenarioID: strings.TrimSpace(req.TargetScenarioID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
