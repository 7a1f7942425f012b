package grade

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/service/grading"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

const formImage = "image"

type Service interface {
	Grade(ctx context.Context, req *grading.Request, caller *model.Identity) (*model.GradeResult, error)
}

type Handler struct {
	service Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/grade", h.auth.Optional(), middleware.NoStore(), h.Grade)
}

// Grade accepts a multipart upload with the image and patient fields.
func (h *Handler) Grade(c *gin.Context) {
	header, err := c.FormFile(formImage)
	if err != nil {
		httputil.RespondWithError(c, uploadError(c, err))
		return
	}

	file, err := header.Open()
	if err != nil {
		httputil.RespondWithError(c, errors.Processing("error processing image", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.RespondWithError(c, uploadError(c, err))
		return
	}

	result, err := h.service.Grade(c.Request.Context(), &grading.Request{
		Image:         data,
		Filename:      header.Filename,
		PatientName:   c.PostForm("patientName"),
		PatientAge:    c.PostForm("patientAge"),
		PatientGender: c.PostForm("patientGender"),
	}, middleware.CurrentIdentity(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func uploadError(c *gin.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.PayloadTooLarge("upload too large", err)
	}

	// a part named image without a filename is parsed as a plain value
	if form := c.Request.MultipartForm; form != nil {
		if _, ok := form.Value[formImage]; ok {
			return errors.Validation("no image selected")
		}
	}
	if stderrors.Is(err, http.ErrMissingFile) || stderrors.Is(err, http.ErrNotMultipart) {
		return errors.Validation("no image provided")
	}
	return errors.BadRequest("invalid upload", err)
}
