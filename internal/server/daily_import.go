package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	obscontext "github.com/smallbiznis/finledger/internal/observability/context"
)

type updateDailyImportConfigRequest struct {
	Enabled   *bool   `json:"enabled"`
	SourceURL *string `json:"source_url"`
}

// RunDailyImport invokes the trigger immediately. A disabled config is not an error:
// the response carries success=false with reason "disabled".
func (s *Server) RunDailyImport(c *gin.Context) {
	res, err := s.daily.Run(c.Request.Context(), csvdomain.RunSourceScheduled)
	if err != nil {
		var stats *csvdomain.ImportReport
		if res != nil {
			stats = res.Stats
		}
		abortImport(c, stats, err)
		return
	}

	if res.Stats != nil {
		c.Set(obscontext.ImportRunIDKey, res.Stats.RunID)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) GetDailyImportConfig(c *gin.Context) {
	resp, err := s.daily.GetConfig(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) UpdateDailyImportConfig(c *gin.Context) {
	var req updateDailyImportConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Enabled == nil && req.SourceURL == nil {
		AbortWithError(c, newValidationError("request", "empty_update", "enabled or source_url is required"))
		return
	}

	resp, err := s.daily.UpdateConfig(c.Request.Context(), dailydomain.UpdateConfigRequest{
		Enabled:   req.Enabled,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}
