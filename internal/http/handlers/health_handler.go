package handlers

import (
	"net/http"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// Health обрабатывает GET /health
func Health(c *gin.Context) {
	res.JsonResponse(c.Writer, gin.H{
		"status":    "ok",
		"message":   "RunSheet API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, http.StatusOK)
}
