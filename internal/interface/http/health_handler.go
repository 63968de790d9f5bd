package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uiseongsang/test-code-with-architecture/pkg/response"
)

type HealthHandler struct {
	Pool *pgxpool.Pool
}

func NewHealthHandler(pool *pgxpool.Pool) *HealthHandler {
	return &HealthHandler{Pool: pool}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	status := gin.H{"app": "ok"}
	if h.Pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Pool.Ping(ctx); err != nil {
			status["postgres"] = "down"
			response.Error[any](c, http.StatusServiceUnavailable, "dependency down", status)
			return
		}
		status["postgres"] = "ok"
	}
	response.Success(c, http.StatusOK, status, "healthy", nil)
}
