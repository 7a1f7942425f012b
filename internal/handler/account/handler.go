package account

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

// Service is the signup side of the account service.
type Service interface {
	SignupDoctor(ctx context.Context, req *model.SignupDoctorRequest) (int64, error)
	SignupOrganization(ctx context.Context, req *model.SignupOrganizationRequest) (int64, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	signup := r.Group("/signup")
	{
		signup.POST("/doctor", h.SignupDoctor)
		signup.POST("/organization", h.SignupOrganization)
	}
}

func (h *Handler) SignupDoctor(c *gin.Context) {
	var req model.SignupDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	id, err := h.service.SignupDoctor(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusCreated, "Doctor account created successfully", model.SignupResponse{ID: id})
}

func (h *Handler) SignupOrganization(c *gin.Context) {
	var req model.SignupOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	id, err := h.service.SignupOrganization(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusCreated, "Organization account created successfully", model.SignupResponse{ID: id})
}
