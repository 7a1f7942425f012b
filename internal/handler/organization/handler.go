package organization

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

// Service affiliates existing doctors with an organization.
type Service interface {
	AffiliateDoctor(ctx context.Context, orgUserID int64, doctorEmail string) (*model.DoctorSummary, error)
}

type Handler struct {
	service Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orgs := r.Group("/organization")
	orgs.Use(h.auth.Authenticate(), middleware.RequireUserType(model.UserTypeOrganization))
	{
		orgs.POST("/doctors", h.AddDoctor)
	}
}

func (h *Handler) AddDoctor(c *gin.Context) {
	var req model.AffiliateDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	caller := middleware.CurrentIdentity(c)
	doctor, err := h.service.AffiliateDoctor(c.Request.Context(), caller.ID, req.Email)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusCreated, "Doctor added to organization", doctor)
}
