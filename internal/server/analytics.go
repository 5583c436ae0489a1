package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	analyticsdomain "github.com/fairwaylabs/fairway/internal/analytics/domain"
)

func (s *Server) AnalyticsReport(c *gin.Context) {
	var query struct {
		Start string `form:"start"`
		End   string `form:"end"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	start, err := parseRequiredTime(query.Start)
	if err != nil {
		AbortWithError(c, analyticsdomain.ErrInvalidPeriod)
		return
	}
	end, err := parseRequiredTime(query.End)
	if err != nil {
		AbortWithError(c, analyticsdomain.ErrInvalidPeriod)
		return
	}

	resp, err := s.analyticsSvc.Report(c.Request.Context(), analyticsdomain.ReportRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
