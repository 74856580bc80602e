package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/http/handlers"
	"github.com/Dhoini/runsheet-api/internal/middleware"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/internal/service"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "route-secret"

type fakeBilling struct {
	lastCheckout service.CheckoutInput
	checkoutErr  error
	status       *service.SubscriptionStatusResult
	cancelErr    error
	owners       map[string]string
	subOwners    map[string]string
	canceled     []string
}

func (f *fakeBilling) CreateCheckout(_ context.Context, in service.CheckoutInput) (*domain.CheckoutSession, error) {
	f.lastCheckout = in
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	if in.PriceID == "" {
		return nil, domain.NewValidationError("priceId", "priceId is required")
	}
	return &domain.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
}

func (f *fakeBilling) CreateTestCheckout(context.Context, string) (*domain.CheckoutSession, error) {
	return &domain.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (f *fakeBilling) SubscriptionStatus(context.Context, string) (*service.SubscriptionStatusResult, error) {
	if f.status == nil {
		return &service.SubscriptionStatusResult{}, nil
	}
	return f.status, nil
}

func (f *fakeBilling) CancelSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return &domain.Subscription{ID: id, Status: domain.SubscriptionStatusCanceled}, nil
}

func (f *fakeBilling) SubscriptionOwner(_ context.Context, subscriptionID string) (string, error) {
	owner, ok := f.subOwners[subscriptionID]
	if !ok {
		return "", domain.NewExternalServiceError("stripe", "resource_missing", "No such subscription", 404, nil)
	}
	return owner, nil
}

func (f *fakeBilling) EnsureCustomer(_ context.Context, userID string) (string, error) {
	return "cus_" + userID, nil
}

func (f *fakeBilling) CustomerOwner(_ context.Context, customerID string) (string, error) {
	owner, ok := f.owners[customerID]
	if !ok {
		return "", domain.NewNotFoundError("customer", customerID)
	}
	return owner, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, userID string) (*domain.Entitlement, error) {
	if userID == "ghost" {
		return nil, domain.NewNotFoundError("user", userID)
	}
	return &domain.Entitlement{IsPremium: true, State: domain.EntitlementStatePremium, Source: domain.SourceMetadata}, nil
}

type fakeWebhooks struct {
	err      error
	payloads [][]byte
}

func (f *fakeWebhooks) HandleWebhook(_ context.Context, payload []byte, _ string) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

type testServer struct {
	router   *gin.Engine
	billing  *fakeBilling
	webhooks *fakeWebhooks
}

func newTestServer(t *testing.T, authRequired, production bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	validator, err := middleware.NewJWTValidator(testSecret, "")
	require.NoError(t, err)

	clients := repository.NewInMemoryClientRepository(log)
	roster := service.NewRosterService(clients, repository.NewInMemoryPlanRepository(clients, log), log)

	billing := &fakeBilling{
		owners:    map[string]string{"cus_u1": "u1"},
		subOwners: map[string]string{"sub_u1": "u1", "sub_orphan": ""},
	}
	s := &testServer{
		router:   gin.New(),
		billing:  billing,
		webhooks: &fakeWebhooks{},
	}
	SetupRoutes(s.router, Handlers{
		Billing:     handlers.NewBillingHandler(s.billing, "price_123", true, production, log),
		Entitlement: handlers.NewEntitlementHandler(fakeResolver{}, log),
		Webhook:     handlers.NewWebhookHandler(s.webhooks, log),
		Roster:      handlers.NewRosterHandler(roster, log),
	}, middleware.NewJWTMiddleware(authRequired, validator, log), prometheus.NewRegistry(), log)
	return s
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func token(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndStripeTest(t *testing.T) {
	s := newTestServer(t, false, false)

	w := s.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	w = s.do(http.MethodGet, "/stripe-test", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["stripeConfigured"])
	assert.Equal(t, "price_123", body["priceId"])

	w = s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCheckoutSession(t *testing.T) {
	s := newTestServer(t, false, false)

	w := s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123","clerkUserId":"u1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cs_1", decode(t, w)["id"])
	assert.Equal(t, "u1", s.billing.lastCheckout.UserID)

	w = s.do(http.MethodPost, "/create-checkout-session", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])

	s.billing.checkoutErr = domain.NewExternalServiceError("stripe", "card_declined", "No such price", 400, nil)
	w = s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_bad"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "No such price", decode(t, w)["error"])
}

func TestCheckoutWithAuthUsesTokenSubject(t *testing.T) {
	s := newTestServer(t, true, false)

	w := s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123"}`, token(t, "u1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", s.billing.lastCheckout.UserID)

	w = s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123","clerkUserId":"u2"}`, token(t, "u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubscriptionStatusAndCancel(t *testing.T) {
	s := newTestServer(t, false, false)

	w := s.do(http.MethodGet, "/subscription-status/u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["active"])
	assert.Nil(t, body["subscription"])

	w = s.do(http.MethodPost, "/cancel-subscription/sub_1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])

	s.billing.cancelErr = domain.NewExternalServiceError("stripe", "resource_missing", "No such subscription", 404, nil)
	w = s.do(http.MethodPost, "/cancel-subscription/sub_missing", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSubscriptionStatus_CustomerOwnership(t *testing.T) {
	s := newTestServer(t, true, false)

	w := s.do(http.MethodGet, "/subscription-status/cus_u1", "", token(t, "u1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/subscription-status/cus_u1", "", token(t, "u2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/subscription-status/u2", "", token(t, "u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCancelSubscription_Ownership(t *testing.T) {
	s := newTestServer(t, true, false)

	w := s.do(http.MethodPost, "/cancel-subscription/sub_u1", "", token(t, "u2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/cancel-subscription/sub_orphan", "", token(t, "u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, s.billing.canceled)

	w = s.do(http.MethodPost, "/cancel-subscription/sub_u1", "", token(t, "u1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sub_u1"}, s.billing.canceled)
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, false, false)
	s.billing.checkoutErr = fmt.Errorf("create checkout: %w", domain.ErrExternalServiceUnavailable)

	w := s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Billing provider is temporarily unavailable", decode(t, w)["error"])

	s.billing.checkoutErr = domain.NewDuplicateError("customer", "clerkUserId", "u1")
	w = s.do(http.MethodPost, "/create-checkout-session", `{"priceId":"price_123"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "customer with clerkUserId 'u1' already exists", decode(t, w)["error"])
}

func TestPremiumStatusAndCustomer(t *testing.T) {
	s := newTestServer(t, false, false)

	w := s.do(http.MethodGet, "/api/user-premium-status/u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["isPremium"])
	assert.Equal(t, "metadata", body["source"])

	w = s.do(http.MethodGet, "/api/user-premium-status/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/create-stripe-customer", `{"userId":"u1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cus_u1", decode(t, w)["stripeCustomerId"])

	w = s.do(http.MethodPost, "/api/create-stripe-customer", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, true, false)

	w := s.do(http.MethodPost, "/webhook", `{"id":"evt_1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["received"])
	assert.Equal(t, `{"id":"evt_1"}`, string(s.webhooks.payloads[0]))

	s.webhooks.err = domain.ErrSignatureInvalid
	w = s.do(http.MethodPost, "/api/webhook", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.webhooks.err = errors.New("clerk down")
	w = s.do(http.MethodPost, "/webhook", `{}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	s.webhooks.err = nil
	w = s.do(http.MethodPost, "/webhook", strings.Repeat("x", 70000), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestCheckout(t *testing.T) {
	s := newTestServer(t, false, false)
	w := s.do(http.MethodGet, "/test-checkout", "", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test", w.Header().Get("Location"))

	w = s.do(http.MethodPost, "/test-checkout", "", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)

	prod := newTestServer(t, false, true)
	w = prod.do(http.MethodGet, "/test-checkout", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRosterRoutes(t *testing.T) {
	s := newTestServer(t, false, false)

	w := s.do(http.MethodPost, "/clients", `{"coachId":"coach_1","name":"Ana","email":"ana@example.com","weeklyKm":40}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	client := decode(t, w)
	id := client["id"].(string)
	assert.Equal(t, "Ana", client["name"])
	assert.Equal(t, float64(40), client["attributes"].(map[string]any)["weeklyKm"])

	w = s.do(http.MethodPost, "/clients", `{"email":"bad"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/clients", `{"name":42}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/clients/"+id, `{"name":"Ana Lopez","goal":"marathon"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode(t, w)
	assert.Equal(t, "Ana Lopez", updated["name"])
	assert.Equal(t, "ana@example.com", updated["email"])

	w = s.do(http.MethodPatch, "/clients/missing", `{"name":"X"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/plans", `{"clientId":"`+id+`","title":"Base week","content":"5x easy"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/plans", `{"clientId":"`+id+`"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/plans?coachId=coach_1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var plans []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	planID := plans[0]["id"].(string)

	w = s.do(http.MethodGet, "/clients?coachId=coach_1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var clients []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clients))
	assert.Len(t, clients, 1)

	w = s.do(http.MethodDelete, "/plans/"+planID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = s.do(http.MethodDelete, "/clients/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/clients/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRosterRoutes_CoachScope(t *testing.T) {
	s := newTestServer(t, true, false)

	w := s.do(http.MethodPost, "/clients", `{"name":"Ana"}`, token(t, "coach_1"))
	require.Equal(t, http.StatusCreated, w.Code)
	client := decode(t, w)
	assert.Equal(t, "coach_1", client["coachId"])
	id := client["id"].(string)

	w = s.do(http.MethodPost, "/clients", `{"name":"Ben","coachId":"coach_2"}`, token(t, "coach_1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, "/clients/"+id, `{"name":"X"}`, token(t, "coach_2"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/clients", "", token(t, "coach_2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}
