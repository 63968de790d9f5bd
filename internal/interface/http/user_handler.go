package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	userapp "github.com/uiseongsang/test-code-with-architecture/internal/application"
	"github.com/uiseongsang/test-code-with-architecture/internal/domain/entity"
	"github.com/uiseongsang/test-code-with-architecture/pkg/response"
	"github.com/uiseongsang/test-code-with-architecture/pkg/validation"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

type UserHandler struct {
	Svc    *userapp.Service
	Logger *logrus.Logger
}

func NewUserHandler(svc *userapp.Service, logger *logrus.Logger) *UserHandler {
	return &UserHandler{Svc: svc, Logger: logger}
}

type createUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Address  string `json:"address" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
}

type updateUserRequest struct {
	Address  *string `json:"address"`
	Nickname *string `json:"nickname"`
}

// userJSON shapes a user for API responses. The certification code never
// leaves the service boundary.
func userJSON(u *entity.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"nickname":      u.Nickname,
		"address":       u.Address,
		"status":        u.Status,
		"last_login_at": u.LastLoginAt,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error[any](c, http.StatusBadRequest, "invalid user id", nil)
		return 0, false
	}
	return id, true
}

// Create registers a new PENDING user and enqueues the certification mail.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	u, err := h.Svc.Create(c.Request.Context(), userapp.CreateUserInput{
		Email:    req.Email,
		Address:  req.Address,
		Nickname: req.Nickname,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			response.Error[any](c, http.StatusConflict, "email already registered", nil)
			return
		}
		if h.Logger != nil {
			h.Logger.WithError(err).Error("create user failed")
		}
		response.Error[any](c, http.StatusInternalServerError, "failed to create user", nil)
		return
	}
	response.Success(c, http.StatusCreated, userJSON(u), "user created", nil)
}

// GetByID returns an ACTIVE user; PENDING accounts are indistinguishable
// from missing ones here.
func (h *UserHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	u, err := h.Svc.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, userapp.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "user not found", nil)
			return
		}
		response.Error[any](c, http.StatusInternalServerError, "failed to load user", nil)
		return
	}
	response.Success(c, http.StatusOK, userJSON(u), "user", nil)
}

// Verify is the certification link target mailed to the user.
func (h *UserHandler) Verify(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	code := c.Query("certificationCode")
	if code == "" {
		response.Error[any](c, http.StatusBadRequest, "certificationCode is required", nil)
		return
	}

	u, err := h.Svc.VerifyEmail(c.Request.Context(), id, code)
	if err != nil {
		switch {
		case errors.Is(err, userapp.ErrUserNotFound):
			response.Error[any](c, http.StatusNotFound, "user not found", nil)
		case errors.Is(err, userapp.ErrCertificationCodeMismatch):
			response.Error[any](c, http.StatusForbidden, "certification code does not match", nil)
		default:
			response.Error[any](c, http.StatusInternalServerError, "failed to verify email", nil)
		}
		return
	}
	response.Success(c, http.StatusOK, userJSON(u), "email verified", nil)
}

// Me resolves the caller from the Email header and records a login.
func (h *UserHandler) Me(c *gin.Context) {
	email := c.GetHeader("Email")
	if email == "" {
		response.Error[any](c, http.StatusBadRequest, "Email header is required", nil)
		return
	}
	u, err := h.Svc.GetByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, userapp.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "user not found", nil)
			return
		}
		response.Error[any](c, http.StatusInternalServerError, "failed to load user", nil)
		return
	}
	if err := h.Svc.Login(c.Request.Context(), u.ID); err != nil {
		response.Error[any](c, http.StatusInternalServerError, "failed to record login", nil)
		return
	}
	// re-read so the response carries the login we just recorded
	u, err = h.Svc.GetByID(c.Request.Context(), u.ID)
	if err != nil {
		response.Error[any](c, http.StatusInternalServerError, "failed to load user", nil)
		return
	}
	response.Success(c, http.StatusOK, userJSON(u), "me", nil)
}

// UpdateMe applies a partial profile update for the caller.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	email := c.GetHeader("Email")
	if email == "" {
		response.Error[any](c, http.StatusBadRequest, "Email header is required", nil)
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	u, err := h.Svc.GetByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, userapp.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "user not found", nil)
			return
		}
		response.Error[any](c, http.StatusInternalServerError, "failed to load user", nil)
		return
	}

	updated, err := h.Svc.Update(c.Request.Context(), u.ID, userapp.UpdateUserInput{
		Address:  req.Address,
		Nickname: req.Nickname,
	})
	if err != nil {
		response.Error[any](c, http.StatusInternalServerError, "failed to update user", nil)
		return
	}
	response.Success(c, http.StatusOK, userJSON(updated), "profile updated", nil)
}

// Search queries the ACTIVE-user index.
func (h *UserHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.Error[any](c, http.StatusBadRequest, "q is required", nil)
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	res, err := h.Svc.SearchUsers(c.Request.Context(), q, size)
	if err != nil {
		response.Error[any](c, http.StatusInternalServerError, "search failed", nil)
		return
	}
	response.Success(c, http.StatusOK, res, "search results", map[string]any{"count": len(res)})
}
