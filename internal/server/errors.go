package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/memberhub/internal/billingerror"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	maildomain "github.com/smallbiznis/memberhub/internal/maildomain/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Human   string            `json:"human,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if be, ok := billingerror.As(err); ok {
		return billingStatus(be), errorPayload{
			Type:    be.Code,
			Message: be.Message,
			Human:   be.Human,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, creditdomain.ErrInvalidCredit),
		errors.Is(err, packagedomain.ErrInvalidPackage),
		errors.Is(err, invoicedomain.ErrInvalidInvoice):
		code := strings.TrimSpace(err.Error())
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   "request",
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, maildomain.ErrProtectedDomain),
		errors.Is(err, maildomain.ErrIdentityNotOwned),
		errors.Is(err, maildomain.ErrIdentityVerified),
		errors.Is(err, maildomain.ErrMissingDKIMKey),
		errors.Is(err, maildomain.ErrNoDomainConfigured):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    err.Error(),
			Message: "mail domain cannot be used",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrProviderFailure):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_provider_failure",
			Message: "payment provider unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func billingStatus(be *billingerror.Error) int {
	switch {
	case strings.HasSuffix(be.Code, "_not_found"):
		return http.StatusNotFound
	case be.Code == pendingdomain.ErrPaymentPending.Code,
		be.Code == packagedomain.ErrRenewalPending.Code:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, creditdomain.ErrCreditNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}
