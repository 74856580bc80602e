// Package routes регистрация маршрутов REST API.
package routes

import (
	"github.com/Dhoini/runsheet-api/internal/http/handlers"
	"github.com/Dhoini/runsheet-api/internal/middleware"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers обработчики, которые регистрирует SetupRoutes.
type Handlers struct {
	Billing     *handlers.BillingHandler
	Entitlement *handlers.EntitlementHandler
	Webhook     *handlers.WebhookHandler
	Roster      *handlers.RosterHandler
}

// SetupRoutes настраивает все маршруты API для Gin роутера.
// registry может быть nil, тогда /metrics не регистрируется.
func SetupRoutes(router *gin.Engine, h Handlers, auth *middleware.JWTMiddleware, registry *prometheus.Registry, log *logger.Logger) {
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())

	// Публичные маршруты
	router.GET("/health", handlers.Health)
	router.GET("/stripe-test", h.Billing.StripeTest)
	router.GET("/test-checkout", h.Billing.TestCheckout)
	router.POST("/test-checkout", h.Billing.TestCheckout)
	router.POST("/webhook", h.Webhook.HandleStripeWebhook)
	router.POST("/api/webhook", h.Webhook.HandleStripeWebhook)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	// Маршруты, требующие токен при AUTH_REQUIRED=true
	protected := router.Group("")
	protected.Use(auth.RequireAuth())
	{
		protected.POST("/create-checkout-session", h.Billing.CreateCheckoutSession)
		protected.GET("/subscription-status/:userId", auth.RequireSameUser("userId"), h.Billing.SubscriptionStatus)
		protected.POST("/cancel-subscription/:subscriptionId", h.Billing.CancelSubscription)

		api := protected.Group("/api")
		api.POST("/create-stripe-customer", h.Billing.CreateStripeCustomer)
		api.GET("/user-premium-status/:userId", auth.RequireSameUser("userId"), h.Entitlement.PremiumStatus)

		protected.POST("/clients", h.Roster.CreateClient)
		protected.GET("/clients", h.Roster.ListClients)
		protected.PATCH("/clients/:clientId", h.Roster.UpdateClient)
		protected.DELETE("/clients/:clientId", h.Roster.DeleteClient)

		protected.POST("/plans", h.Roster.CreatePlan)
		protected.GET("/plans", h.Roster.ListPlans)
		protected.DELETE("/plans/:planId", h.Roster.DeletePlan)
	}

	log.Infow("API routes successfully configured", "authRequired", auth.Required(), "metrics", registry != nil)
}
