package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/dto"
	"github.com/noah-isme/qbank-api/internal/service"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/middleware/cors"
	"github.com/noah-isme/qbank-api/pkg/response"
)

// SkippedFilesHeader reports how many files were left out of an assembled document.
const SkippedFilesHeader = cors.SkippedFilesHeader

type assemblyService interface {
	AssembleMergedPDF(ctx context.Context, parentIDs []int64, filter string) (*service.MergedDocument, error)
	CombineForDownload(ctx context.Context, parentIDs []int64) (*service.MergedDocument, error)
	PrepareZipBundle(ctx context.Context, parentIDs []int64, formTitle string) (*service.ZipBundle, error)
}

// AssemblyHandler serves merged PDFs and ZIP bundles of question sets.
type AssemblyHandler struct {
	service   assemblyService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssemblyHandler constructs the handler.
func NewAssemblyHandler(service assemblyService, validate *validator.Validate, logger *zap.Logger) *AssemblyHandler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssemblyHandler{service: service, validator: validate, logger: logger}
}

// CombinePreview godoc
// @Summary Merge the files of a question set into one PDF
// @Tags Assembly
// @Produce application/pdf
// @Param id path int true "Question set ID"
// @Param type query string false "questions or answers" default(questions)
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /files/combine-preview/{id} [get]
func (h *AssemblyHandler) CombinePreview(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.AssembleMergedPDF(c.Request.Context(), []int64{id}, c.Query("type"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writePDF(c, doc, "inline")
}

// CombineDownload godoc
// @Summary Merge every file of the question sets into one PDF download
// @Tags Assembly
// @Produce application/pdf
// @Param ids query string true "Comma separated question set IDs"
// @Success 200 {file} binary
// @Router /files/combine-download [get]
func (h *AssemblyHandler) CombineDownload(c *gin.Context) {
	ids, err := h.queryIDs(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.CombineForDownload(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	writePDF(c, doc, "attachment")
}

// DownloadBundle godoc
// @Summary Download a ZIP bundle of question sets
// @Tags Assembly
// @Produce application/zip
// @Param ids query string true "Comma separated question set IDs"
// @Param formTitle query string false "Bundle title"
// @Success 200 {file} binary
// @Router /files/download-bundle [get]
func (h *AssemblyHandler) DownloadBundle(c *gin.Context) {
	var query dto.BundleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid bundle query"))
		return
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids is required"))
		return
	}
	ids, err := dto.ParseIDList(query.IDs)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids must be a comma separated list of ids"))
		return
	}

	bundle, err := h.service.PrepareZipBundle(c.Request.Context(), ids, query.FormTitle)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", contentDisposition("attachment", bundle.Filename))
	c.Header("Cache-Control", "no-store")
	c.Header(SkippedFilesHeader, strconv.Itoa(len(bundle.Skipped)))
	c.Status(http.StatusOK)
	if err := bundle.WriteTo(c.Request.Context(), c.Writer); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		h.logger.Warn("bundle stream aborted", zap.String("filename", bundle.Filename), zap.Error(err))
		_ = c.Error(err)
		c.Abort()
	}
}

func (h *AssemblyHandler) queryIDs(c *gin.Context) ([]int64, error) {
	ids, err := dto.ParseIDList(c.Query("ids"))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids must be a comma separated list of ids")
	}
	return ids, nil
}

func writePDF(c *gin.Context, doc *service.MergedDocument, disposition string) {
	c.Header("Content-Disposition", contentDisposition(disposition, doc.Filename))
	c.Header("Cache-Control", "no-store")
	c.Header(SkippedFilesHeader, strconv.Itoa(len(doc.Skipped)))
	c.Data(http.StatusOK, "application/pdf", doc.Data)
}
