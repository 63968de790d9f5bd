package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uiseongsang/test-code-with-architecture/internal/container"
	handlers "github.com/uiseongsang/test-code-with-architecture/internal/interface/http"
	"github.com/uiseongsang/test-code-with-architecture/internal/interface/middleware"
)

// UserModule wires the user lifecycle routes.
// POST /api/users, GET /api/users/:id, GET /api/users/:id/verify,
// GET|PUT /api/users/me, GET /api/users/search
type UserModule struct {
	Handler *handlers.UserHandler
}

func NewUserModule(h *handlers.UserHandler) *UserModule {
	return &UserModule{Handler: h}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	rdb := container.GetRedis()
	createLimiter := middleware.RateLimit(rdb, 10, time.Minute, middleware.KeyByIP(), nil)        // 10 signups/min per IP
	verifyLimiter := middleware.RateLimit(rdb, 30, time.Minute, middleware.KeyByIPAndPath(), nil) // slow down code guessing
	readLimiter := middleware.RateLimit(rdb, 300, time.Minute, middleware.KeyByIP(), nil)

	rg.POST("/users", createLimiter, m.Handler.Create)
	rg.GET("/users/me", readLimiter, m.Handler.Me)
	rg.PUT("/users/me", readLimiter, m.Handler.UpdateMe)
	rg.GET("/users/search", readLimiter, m.Handler.Search)
	rg.GET("/users/:id", readLimiter, m.Handler.GetByID)
	rg.GET("/users/:id/verify", verifyLimiter, m.Handler.Verify)
}
