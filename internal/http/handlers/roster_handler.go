package handlers

import (
	"fmt"
	"net/http"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/middleware"
	"github.com/Dhoini/runsheet-api/internal/service"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/req"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// RosterHandler CRUD клиентов тренера и их планов.
//
// Тело клиента произвольный JSON: name, email и coachId разбираются явно,
// остальные поля сохраняются в attributes.
type RosterHandler struct {
	roster *service.RosterService
	log    *logger.Logger
}

func NewRosterHandler(roster *service.RosterService, log *logger.Logger) *RosterHandler {
	return &RosterHandler{roster: roster, log: log}
}

// clientBody разобранное тело запроса клиента; nil означает, что поле не передано.
type clientBody struct {
	coachID    *string
	name       *string
	email      *string
	attributes domain.Attributes
}

func parseClientBody(raw map[string]any) (clientBody, error) {
	body := clientBody{attributes: domain.Attributes{}}
	var errs domain.ValidationErrors

	for key, value := range raw {
		switch key {
		case "coachId":
			body.coachID = stringField(&errs, key, value)
		case "name":
			body.name = stringField(&errs, key, value)
		case "email":
			body.email = stringField(&errs, key, value)
		case "id", "createdAt", "updatedAt":
			// выставляются сервером
		case "attributes":
			nested, ok := value.(map[string]any)
			if !ok {
				errs.Add(key, "must be an object")
				continue
			}
			for k, v := range nested {
				body.attributes[k] = v
			}
		default:
			body.attributes[key] = value
		}
	}
	if errs.HasErrors() {
		return clientBody{}, errs
	}
	return body, nil
}

func stringField(errs *domain.ValidationErrors, key string, value any) *string {
	s, ok := value.(string)
	if !ok {
		errs.Add(key, "must be a string")
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateClient обрабатывает POST /clients
func (h *RosterHandler) CreateClient(c *gin.Context) {
	raw, err := req.Decode[map[string]any](c.Request.Body)
	if err != nil {
		writeError(c, h.log, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	body, err := parseClientBody(raw)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	coachID, ok := h.coachScope(c, deref(body.coachID))
	if !ok {
		return
	}
	input := service.ClientInput{
		CoachID:    coachID,
		Name:       deref(body.name),
		Email:      deref(body.email),
		Attributes: body.attributes,
	}
	if !h.valid(c, input) {
		return
	}

	client, err := h.roster.CreateClient(c.Request.Context(), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, client, http.StatusCreated)
}

// ListClients обрабатывает GET /clients?coachId=
func (h *RosterHandler) ListClients(c *gin.Context) {
	coachID, ok := h.coachScope(c, c.Query("coachId"))
	if !ok {
		return
	}
	clients, err := h.roster.ListClients(c.Request.Context(), coachID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, clients, http.StatusOK)
}

// UpdateClient обрабатывает PATCH /clients/:clientId
func (h *RosterHandler) UpdateClient(c *gin.Context) {
	id := c.Param("clientId")
	if !h.ownsClient(c, id) {
		return
	}

	raw, err := req.Decode[map[string]any](c.Request.Body)
	if err != nil {
		writeError(c, h.log, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	body, err := parseClientBody(raw)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if body.coachID != nil {
		if _, ok := h.coachScope(c, *body.coachID); !ok {
			return
		}
	}

	input := service.ClientPatchInput{
		CoachID:    body.coachID,
		Name:       body.name,
		Email:      body.email,
		Attributes: body.attributes,
	}
	if !h.valid(c, input) {
		return
	}

	client, err := h.roster.UpdateClient(c.Request.Context(), id, input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, client, http.StatusOK)
}

// DeleteClient обрабатывает DELETE /clients/:clientId
func (h *RosterHandler) DeleteClient(c *gin.Context) {
	id := c.Param("clientId")
	if !h.ownsClient(c, id) {
		return
	}
	if err := h.roster.DeleteClient(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, res.SuccessResponse{Success: true}, http.StatusOK)
}

// CreatePlan обрабатывает POST /plans
func (h *RosterHandler) CreatePlan(c *gin.Context) {
	body, err := req.HandleBody[service.PlanInput](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}
	if !h.ownsClient(c, body.ClientID) {
		return
	}

	plan, err := h.roster.CreatePlan(c.Request.Context(), *body)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, plan, http.StatusCreated)
}

// ListPlans обрабатывает GET /plans?clientId=&coachId=
func (h *RosterHandler) ListPlans(c *gin.Context) {
	filter := domain.PlanFilter{ClientID: c.Query("clientId")}
	coachID, ok := h.coachScope(c, c.Query("coachId"))
	if !ok {
		return
	}
	filter.CoachID = coachID

	plans, err := h.roster.ListPlans(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, plans, http.StatusOK)
}

// DeletePlan обрабатывает DELETE /plans/:planId
func (h *RosterHandler) DeletePlan(c *gin.Context) {
	if err := h.roster.DeletePlan(c.Request.Context(), c.Param("planId")); err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, res.SuccessResponse{Success: true}, http.StatusOK)
}

// coachScope с включенной аутентификацией тренер это пользователь из токена.
func (h *RosterHandler) coachScope(c *gin.Context, requested string) (string, bool) {
	sub, ok := middleware.UserID(c)
	if !ok {
		return requested, true
	}
	if requested != "" && requested != sub {
		writeError(c, h.log, domain.ErrForbidden)
		return "", false
	}
	return sub, true
}

func (h *RosterHandler) ownsClient(c *gin.Context, clientID string) bool {
	sub, ok := middleware.UserID(c)
	if !ok {
		return true
	}
	client, err := h.roster.GetClient(c.Request.Context(), clientID)
	if err != nil {
		writeError(c, h.log, err)
		return false
	}
	if client.CoachID != sub {
		writeError(c, h.log, domain.ErrForbidden)
		return false
	}
	return true
}

func (h *RosterHandler) valid(c *gin.Context, payload any) bool {
	if err := req.IsValid(payload); err != nil {
		h.log.Warnw("Request body validation failed", "error", err, "path", c.FullPath())
		res.JsonResponse(c.Writer, res.ErrorResponse{
			Error:     "Invalid request data",
			ErrorCode: http.StatusBadRequest,
			Details:   req.FieldErrors(err),
		}, http.StatusBadRequest)
		c.Abort()
		return false
	}
	return true
}
