package server

import (
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	dashboarddomain "github.com/smallbiznis/bigdeal/internal/dashboard/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.uber.org/zap"
)

const maxSavedScenarioBytes = 1 << 20

func scenarioID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("scenario_id"))
}

func (s *Server) GetRankedJournals(c *gin.Context) {
	value, present := c.GetQuery("members")
	resp, err := s.dashboardSvc.RankedJournals(c.Request.Context(), scenarioID(c), parseMemberList(value, present))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetSummary(c *gin.Context) {
	resp, err := s.dashboardSvc.Summary(c.Request.Context(), scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetApcRollup(c *gin.Context) {
	resp, err := s.dashboardSvc.ApcRollup(c.Request.Context(), scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetInstitutions(c *gin.Context) {
	resp, err := s.dashboardSvc.Institutions(c.Request.Context(), scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"institutions": resp})
}

func (s *Server) GetJournalZoom(c *gin.Context) {
	issnL := strings.TrimSpace(c.Param("issn_l"))
	if issnL == "" {
		AbortWithError(c, newValidationError("issn_l", "required", "issn_l is required"))
		return
	}
	resp, err := s.dashboardSvc.JournalZoom(c.Request.Context(), scenarioID(c), issnL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ExportJournalsByInstitution(c *gin.Context) {
	value, present := c.GetQuery("members")
	rows, err := s.dashboardSvc.JournalsByInstitution(c.Request.Context(), scenarioID(c), parseMemberList(value, present))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !strings.EqualFold(c.Query("format"), "csv") {
		c.JSON(http.StatusOK, gin.H{"journals": rows})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="journals_by_institution.csv"`)
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/csv")
	if err := writeInstitutionCSV(c.Writer, rows); err != nil {
		s.log.Warn("export write failed", zap.String("scenario_id", scenarioID(c)), zap.Error(err))
	}
}

func writeInstitutionCSV(w io.Writer, rows []dashboarddomain.InstitutionJournal) error {
	out := csv.NewWriter(w)
	header := []string{
		"institution_code", "institution_name", "package_id", "issn_l", "issns", "title",
		"usage", "cpu", "subscription_cost", "ill_cost", "fractional_authorship", "subscribed_by_consortium",
	}
	if err := out.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		cpu := ""
		if r.Cpu != nil {
			cpu = formatFloat(*r.Cpu)
		}
		record := []string{
			r.InstitutionCode, r.InstitutionName, r.PackageID, r.IssnL, r.Issns, r.Title,
			formatFloat(r.Usage), cpu, formatFloat(r.SubscriptionCost), formatFloat(r.IllCost),
			formatFloat(r.AuthorshipFraction), strconv.FormatBool(r.SubscribedByConsortium),
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Server) GetSavedScenario(c *gin.Context) {
	cfg, err := s.scenarioSvc.Latest(c.Request.Context(), scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, savedScenarioResponse(cfg))
}

func (s *Server) SaveScenario(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSavedScenarioBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	cfg, err := s.scenarioSvc.Save(c.Request.Context(), scenariodomain.SaveRequest{
		ScenarioID: scenarioID(c),
		Raw:        raw,
		IP:         c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, savedScenarioResponse(cfg))
}

func savedScenarioResponse(cfg scenariodomain.ScenarioConfig) gin.H {
	resp := gin.H{"scenario_id": cfg.ScenarioID, "saved": cfg}
	if !cfg.SavedAt.IsZero() {
		resp["saved_at"] = cfg.SavedAt
	}
	return resp
}

func (s *Server) GetIncludedMembers(c *gin.Context) {
	ctx := c.Request.Context()
	consortium, err := s.consortiumSvc.Get(ctx, scenarioID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	included, err := s.consortiumSvc.IncludedMembers(ctx, consortium)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenario_id": consortium.ScenarioID, "members": included})
}

type setIncludedMembersRequest struct {
	Members []string `json:"members"`
}

func (s *Server) SetIncludedMembers(c *gin.Context) {
	var req setIncludedMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Members == nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	included, err := s.consortiumSvc.SetIncludedMembers(c.Request.Context(), scenarioID(c), req.Members)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenario_id": scenarioID(c), "members": included})
}
