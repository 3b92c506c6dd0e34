package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
)

func (s *Server) ListLedgerEntries(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	query := csvdomain.LedgerQuery{
		From:  strings.TrimSpace(c.Query("from")),
		To:    strings.TrimSpace(c.Query("to")),
		Order: strings.TrimSpace(c.Query("order")),
	}
	if limit != nil {
		query.Limit = *limit
	}

	resp, err := s.imports.QueryLedger(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) GetChannelStatistics(c *gin.Context) {
	resp, err := s.imports.ChannelStatistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}
