package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

type Service interface {
	Login(ctx context.Context, email, password string) (*model.LoginResponse, error)
	Me(ctx context.Context, userID int64) (*model.Identity, error)
	Logout(ctx context.Context, sessionID string) error
}

type Handler struct {
	svc  Service
	auth *middleware.AuthMiddleware
}

func NewHandler(svc Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{svc: svc, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/login", h.Login)

	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.GET("/me", h.auth.Authenticate(), middleware.NoStore(), h.Me)
		auth.POST("/logout", h.auth.Authenticate(), h.Logout)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, &httputil.Response{
		Status: "success",
		Data:   resp.Identity,
		Token:  resp.Token,
	})
}

func (h *Handler) Me(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)

	me, err := h.svc.Me(c.Request.Context(), identity.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, me)
}

func (h *Handler) Logout(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)

	if err := h.svc.Logout(c.Request.Context(), identity.SessionID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusOK, "logged out", nil)
}
