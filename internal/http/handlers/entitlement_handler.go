package handlers

import (
	"net/http"

	"github.com/Dhoini/runsheet-api/internal/service"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// EntitlementHandler отдает статус премиума пользователя.
type EntitlementHandler struct {
	resolver service.EntitlementResolver
	log      *logger.Logger
}

func NewEntitlementHandler(resolver service.EntitlementResolver, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{resolver: resolver, log: log}
}

// PremiumStatus обрабатывает GET /api/user-premium-status/:userId
func (h *EntitlementHandler) PremiumStatus(c *gin.Context) {
	ent, err := h.resolver.Resolve(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res.JsonResponse(c.Writer, ent, http.StatusOK)
}
