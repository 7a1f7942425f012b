package record

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	recordService "github.com/jwalitptl/livsafe-api/internal/service/record"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Service interface {
	List(ctx context.Context, caller *model.Identity, page, pageSize int) ([]model.RecordSummary, int, error)
	Get(ctx context.Context, caller *model.Identity, recordID string) (*model.RecordDetail, error)
	Export(ctx context.Context, caller *model.Identity) ([]byte, error)
}

type Handler struct {
	service Service
	auth    *middleware.AuthMiddleware
	now     func() time.Time
}

func NewHandler(service Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/records")
	records.Use(middleware.NoStore())
	{
		records.GET("", h.auth.Optional(), middleware.RequireUserType(model.UserTypeDoctor), h.ListRecords)
		records.GET("/export", h.auth.Authenticate(), middleware.RequireUserType(model.UserTypeDoctor), h.ExportRecords)
		records.GET("/:recordId", h.auth.Authenticate(), middleware.RequireUserType(model.UserTypeDoctor), h.GetRecord)
	}
}

func (h *Handler) ListRecords(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", recordService.DefaultPageSize)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	page, limit = recordService.Page(page, limit)

	records, total, err := h.service.List(c.Request.Context(), middleware.CurrentIdentity(c), page, limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, records, page, limit, total)
}

func (h *Handler) GetRecord(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("recordId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, record)
}

func (h *Handler) ExportRecords(c *gin.Context) {
	data, err := h.service.Export(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("livsafe-records-%s.xlsx", h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(key + " must be a number")
	}
	return v, nil
}
