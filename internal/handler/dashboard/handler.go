package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

type Service interface {
	DoctorDashboard(ctx context.Context, caller *model.Identity) (*model.DoctorDashboard, error)
	OrganizationDashboard(ctx context.Context, caller *model.Identity) (*model.OrganizationDashboard, error)
}

type Handler struct {
	service Service
	auth    *middleware.AuthMiddleware
	maxAge  time.Duration
}

// NewHandler serves both dashboards. maxAge is sent as a private
// Cache-Control lifetime.
func NewHandler(service Service, auth *middleware.AuthMiddleware, maxAge time.Duration) *Handler {
	return &Handler{service: service, auth: auth, maxAge: maxAge}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/doctor/dashboard",
		h.auth.Optional(),
		middleware.RequireUserType(model.UserTypeDoctor),
		middleware.CacheControl(h.maxAge),
		h.DoctorDashboard,
	)
	r.GET("/organization/dashboard",
		h.auth.Optional(),
		middleware.RequireUserType(model.UserTypeOrganization),
		middleware.CacheControl(h.maxAge),
		h.OrganizationDashboard,
	)
}

func (h *Handler) DoctorDashboard(c *gin.Context) {
	dashboard, err := h.service.DoctorDashboard(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, dashboard)
}

func (h *Handler) OrganizationDashboard(c *gin.Context) {
	dashboard, err := h.service.OrganizationDashboard(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, dashboard)
}
