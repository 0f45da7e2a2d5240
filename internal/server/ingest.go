package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) PackageIngested(c *gin.Context) {
	scenarios, err := s.ingest.NotifyPackageIngested(c.Request.Context(), c.Param("package_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_id": c.Param("package_id"), "invalidated_scenarios": scenarios})
}

func (s *Server) ReloadJournalMetadata(c *gin.Context) {
	s.directory.Reload(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
