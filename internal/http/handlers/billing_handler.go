package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/middleware"
	"github.com/Dhoini/runsheet-api/internal/service"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/req"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// BillingOperations операции сервиса биллинга, которые нужны обработчику.
type BillingOperations interface {
	CreateCheckout(ctx context.Context, in service.CheckoutInput) (*domain.CheckoutSession, error)
	CreateTestCheckout(ctx context.Context, origin string) (*domain.CheckoutSession, error)
	SubscriptionStatus(ctx context.Context, ref string) (*service.SubscriptionStatusResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
	EnsureCustomer(ctx context.Context, userID string) (string, error)
	CustomerOwner(ctx context.Context, customerID string) (string, error)
	SubscriptionOwner(ctx context.Context, subscriptionID string) (string, error)
}

// CheckoutRequest тело POST /create-checkout-session
type CheckoutRequest struct {
	PriceID     string `json:"priceId"`
	ClerkUserID string `json:"clerkUserId"`
	CustomerID  string `json:"customerId"`
	SuccessURL  string `json:"successUrl" validate:"omitempty,url"`
	CancelURL   string `json:"cancelUrl" validate:"omitempty,url"`
}

// CheckoutResponse ответ с ID сессии и URL для редиректа
type CheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// CreateCustomerRequest тело POST /api/create-stripe-customer
type CreateCustomerRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// BillingHandler обрабатывает запросы checkout, статуса и отмены подписки.
type BillingHandler struct {
	billing    BillingOperations
	priceID    string
	configured bool
	production bool
	log        *logger.Logger
}

// NewBillingHandler создает BillingHandler. configured показывает, задан ли STRIPE_SECRET_KEY.
func NewBillingHandler(billing BillingOperations, priceID string, configured, production bool, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		billing:    billing,
		priceID:    priceID,
		configured: configured,
		production: production,
		log:        log,
	}
}

// CreateCheckoutSession обрабатывает POST /create-checkout-session
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	body, err := req.HandleBody[CheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	userID := body.ClerkUserID
	if sub, ok := middleware.UserID(c); ok {
		if userID == "" {
			userID = sub
		}
		if userID != sub {
			writeError(c, h.log, domain.ErrForbidden)
			return
		}
	}

	session, err := h.billing.CreateCheckout(c.Request.Context(), service.CheckoutInput{
		PriceID:    body.PriceID,
		UserID:     userID,
		CustomerID: body.CustomerID,
		SuccessURL: body.SuccessURL,
		CancelURL:  body.CancelURL,
		Origin:     c.GetHeader("Origin"),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, CheckoutResponse{ID: session.ID, URL: session.URL}, http.StatusOK)
}

// SubscriptionStatus обрабатывает GET /subscription-status/:userId
func (h *BillingHandler) SubscriptionStatus(c *gin.Context) {
	ref := c.Param("userId")
	if !h.ownsCustomerRef(c, ref) {
		return
	}

	result, err := h.billing.SubscriptionStatus(c.Request.Context(), ref)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, result, http.StatusOK)
}

// CancelSubscription обрабатывает POST /cancel-subscription/:subscriptionId
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	subscriptionID := c.Param("subscriptionId")
	if userID, ok := middleware.UserID(c); ok {
		owner, err := h.billing.SubscriptionOwner(c.Request.Context(), subscriptionID)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		if owner != userID {
			h.log.Warnw("Cancel of another user's subscription rejected", "subscriptionID", subscriptionID, "userID", userID)
			writeError(c, h.log, domain.ErrForbidden)
			return
		}
	}

	sub, err := h.billing.CancelSubscription(c.Request.Context(), subscriptionID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, gin.H{"success": true, "subscription": sub}, http.StatusOK)
}

// CreateStripeCustomer обрабатывает POST /api/create-stripe-customer
func (h *BillingHandler) CreateStripeCustomer(c *gin.Context) {
	body, err := req.HandleBody[CreateCustomerRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}
	if !middleware.SameUser(c, body.UserID) {
		writeError(c, h.log, domain.ErrForbidden)
		return
	}

	customerID, err := h.billing.EnsureCustomer(c.Request.Context(), body.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, gin.H{"stripeCustomerId": customerID}, http.StatusOK)
}

// StripeTest обрабатывает GET /stripe-test
func (h *BillingHandler) StripeTest(c *gin.Context) {
	priceID := h.priceID
	if priceID == "" {
		priceID = "not configured"
	}
	res.JsonResponse(c.Writer, gin.H{"stripeConfigured": h.configured, "priceId": priceID}, http.StatusOK)
}

// TestCheckout обрабатывает GET|POST /test-checkout: редирект 303 на тестовую сессию.
func (h *BillingHandler) TestCheckout(c *gin.Context) {
	if h.production {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Not found", ErrorCode: http.StatusNotFound}, http.StatusNotFound)
		return
	}

	session, err := h.billing.CreateTestCheckout(c.Request.Context(), c.GetHeader("Origin"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.Infow("Test checkout session created", "sessionID", session.ID, "method", c.Request.Method)
	c.Redirect(http.StatusSeeOther, session.URL)
}

// ownsCustomerRef проверяет, что клиент Stripe принадлежит пользователю из токена.
func (h *BillingHandler) ownsCustomerRef(c *gin.Context, ref string) bool {
	sub, ok := middleware.UserID(c)
	if !ok || !strings.HasPrefix(ref, "cus_") {
		return true
	}
	owner, err := h.billing.CustomerOwner(c.Request.Context(), ref)
	if err != nil {
		writeError(c, h.log, err)
		return false
	}
	if owner != sub {
		writeError(c, h.log, domain.ErrForbidden)
		return false
	}
	return true
}
