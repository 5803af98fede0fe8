package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
)

type dnsValidationResponse struct {
	AllValid         bool                  `json:"all_valid"`
	MailDomainActive bool                  `json:"mail_domain_active"`
	BecameActive     bool                  `json:"became_active"`
	Records          []orgdomain.DNSRecord `json:"records"`
}

func (s *Server) ValidateDNSRecords(c *gin.Context) {
	orgID, ok := parseIDParam(c)
	if !ok {
		return
	}

	result, err := s.mailDomains.UpdateDNSRecords(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records := result.Records
	if records == nil {
		records = []orgdomain.DNSRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"data": dnsValidationResponse{
		AllValid:         result.Validation.AllValid,
		MailDomainActive: result.MailDomainActive,
		BecameActive:     result.BecameActive,
		Records:          records,
	}})
}
