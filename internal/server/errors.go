package server

import (
	"errors"
	"net/http"

	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	"github.com/fairwaylabs/fairway/internal/guard"
	"github.com/fairwaylabs/fairway/internal/identity"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/internal/payment"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware converts errors attached to the gin context
// into one consistent JSON error shape.
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

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	var crossTenant *guard.CrossTenantViolation
	if errors.As(err, &crossTenant) {
		return http.StatusForbidden, errorPayload{Type: "cross_tenant_violation", Message: crossTenant.Error()}
	}
	var subTransition *subscriptiondomain.InvalidStateTransition
	if errors.As(err, &subTransition) {
		return http.StatusConflict, errorPayload{Type: "invalid_state_transition", Message: subTransition.Error()}
	}
	var invTransition *invoicedomain.InvalidStatusTransition
	if errors.As(err, &invTransition) {
		return http.StatusConflict, errorPayload{Type: "invalid_invoice_transition", Message: invTransition.Error()}
	}

	switch {
	case errors.Is(err, identity.ErrUnknownAssertion):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unknown identity assertion"}

	case errors.Is(err, guard.ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}

	case errors.Is(err, ErrTenantSuspended):
		return http.StatusForbidden, errorPayload{Type: "tenant_suspended", Message: "tenant is suspended"}

	case errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, tenantdomain.ErrParentNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, tierdomain.ErrTierNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, tenantdomain.ErrDuplicateSlug),
		errors.Is(err, tierdomain.ErrDuplicateCode),
		errors.Is(err, subscriptiondomain.ErrDuplicateSubscription),
		errors.Is(err, ledgerdomain.ErrDuplicateEvent):
		return http.StatusConflict, errorPayload{Type: "duplicate", Message: err.Error()}

	case errors.Is(err, tenantdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{Type: "invalid_transition", Message: err.Error()}

	case errors.Is(err, payment.ErrDeclined):
		return http.StatusPaymentRequired, errorPayload{Type: "payment_declined", Message: "payment declined"}

	case errors.Is(err, payment.ErrProcessor):
		return http.StatusBadGateway, errorPayload{Type: "payment_processor_error", Message: "payment outcome unknown, retry later"}

	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// isValidationError covers the bad-input sentinels of every feature
// package.
func isValidationError(err error) bool {
	validation := []error{
		ErrInvalidRequest,
		ErrTenantRequired,
		tenantdomain.ErrInvalidName,
		tenantdomain.ErrInvalidType,
		tenantdomain.ErrInvalidTenant,
		tenantdomain.ErrSlugImmutable,
		tenantdomain.ErrParentNotChain,
		tenantdomain.ErrLimitsExceedParent,
		tenantdomain.ErrChildLimitsExceed,
		customerdomain.ErrInvalidName,
		customerdomain.ErrInvalidEmail,
		customerdomain.ErrInvalidID,
		customerdomain.ErrInvalidTenant,
		tierdomain.ErrInvalidCode,
		tierdomain.ErrInvalidFamily,
		tierdomain.ErrInvalidPrice,
		subscriptiondomain.ErrInvalidID,
		subscriptiondomain.ErrInvalidCustomer,
		subscriptiondomain.ErrInvalidCycle,
		subscriptiondomain.ErrInvalidDuration,
		subscriptiondomain.ErrReasonRequired,
		subscriptiondomain.ErrSameTier,
		subscriptiondomain.ErrTierFamilyMismatch,
		subscriptiondomain.ErrInvalidPageToken,
		ledgerdomain.ErrInvalidEventID,
		ledgerdomain.ErrInvalidEventType,
		ledgerdomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidCurrency,
		ledgerdomain.ErrInvalidOccurredAt,
		ledgerdomain.ErrInvalidPeriod,
		invoicedomain.ErrInvalidID,
		invoicedomain.ErrInvalidCustomer,
		invoicedomain.ErrNoLines,
		invoicedomain.ErrInvalidLine,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		payment.ErrInvalidAmount,
		payment.ErrInvalidToken,
	}
	for _, sentinel := range validation {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// classifyErrorForLog feeds the request logger a coarse error family.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "server_error", payload.Type
	case status >= 400:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
