package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RenewPackage stores the successor of a package and bills it right away.
// The successor activates once that invoice is paid, or immediately when it
// costs nothing.
func (s *Server) RenewPackage(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	result, err := s.pendingSvc.Renew(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	renewed := result.Package

	s.log.Info("package renewed",
		zap.String("package_id", id.String()),
		zap.String("renewed_id", renewed.ID.String()),
		zap.String("organization_id", renewed.OrganizationID.String()),
		zap.Bool("active", renewed.ValidAt != nil),
	)
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"package": renewed,
		"pending": newPendingView(result.Pending),
	}})
}
