package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/qbank-api/internal/dto"
	"github.com/noah-isme/qbank-api/internal/middleware"
	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/internal/service"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/response"
)

type fileService interface {
	Upload(ctx context.Context, upload service.FileUpload, actor models.Actor) (*models.FileRecord, error)
	Replace(ctx context.Context, targetID int64, upload service.FileUpload, actor models.Actor) (*models.ReplaceResult, error)
	RollbackReplacement(ctx context.Context, currentID int64, actor models.Actor) (*models.RollbackResult, error)
	SoftDelete(ctx context.Context, id int64, actor models.Actor) (*models.FileRecord, error)
	Restore(ctx context.Context, id int64, actor models.Actor) (*models.FileRecord, error)
	PermanentDelete(ctx context.Context, id int64, actor models.Actor) error
	BulkSoftDelete(ctx context.Context, ids []int64, actor models.Actor) (*models.BulkResult, error)
	BulkRestore(ctx context.Context, ids []int64, actor models.Actor) (*models.BulkResult, error)
	BulkPermanentDelete(ctx context.Context, ids []int64, actor models.Actor) (*models.BulkResult, error)
	Download(ctx context.Context, id int64) (*service.FileContent, error)
	Preview(ctx context.Context, id int64) (*service.FileContent, error)
	Blob(ctx context.Context, id int64) (*service.FileContent, error)
	Template(ctx context.Context) (*service.FileContent, error)
	SignedLink(ctx context.Context, id int64) (*service.SignedFileLink, error)
	OpenShared(ctx context.Context, token string) (*service.FileContent, error)
	ListActive(ctx context.Context, questionSetID int64) (service.GroupedFiles, error)
	ListDeleted(ctx context.Context, questionSetID int64) ([]models.FileRecord, error)
	History(ctx context.Context, questionSetID int64) ([]models.FileRecord, error)
	Completeness(ctx context.Context, questionSetID int64) (*models.Completeness, error)
	Statistics(ctx context.Context, questionSetID int64) ([]models.CategoryStatistics, error)
	Activity(ctx context.Context, questionSetID int64, limit int) ([]models.ActivityEntry, error)
}

// FileHandler exposes the question-set file lifecycle endpoints.
type FileHandler struct {
	service   fileService
	validator *validator.Validate
}

// NewFileHandler constructs the handler.
func NewFileHandler(service fileService, validate *validator.Validate) *FileHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &FileHandler{service: service, validator: validate}
}

// Upload godoc
// @Summary Upload a file to a question set
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Param questionSetId formData int true "Question set ID"
// @Param fileCategory formData string false "questions, answers or testCases"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/upload [post]
func (h *FileHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UploadFileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid upload payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "questionSetId is required"))
		return
	}
	upload, closeFn, err := formUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()
	upload.QuestionSetID = req.QuestionSetID
	upload.Category = req.FileCategory

	file, err := h.service.Upload(c.Request.Context(), upload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Replace godoc
// @Summary Replace a file with a new upload
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Param replaceFileId formData int true "File to replace"
// @Param questionSetId formData int false "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /files/replace [post]
func (h *FileHandler) Replace(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReplaceFileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid replace payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "replaceFileId is required"))
		return
	}
	upload, closeFn, err := formUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()
	upload.QuestionSetID = req.QuestionSetID

	result, err := h.service.Replace(c.Request.Context(), req.ReplaceFileID, upload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

func formUpload(c *gin.Context) (service.FileUpload, func(), error) {
	header, err := c.FormFile("file")
	if err != nil {
		return service.FileUpload{}, nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	src, err := header.Open()
	if err != nil {
		return service.FileUpload{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return service.FileUpload{
		Filename: header.Filename,
		Size:     header.Size,
		MimeType: header.Header.Get("Content-Type"),
		Content:  src,
	}, func() { _ = src.Close() }, nil
}

// Download godoc
// @Summary Download a file
// @Tags Files
// @Produce octet-stream
// @Param id path int true "File ID"
// @Success 200 {file} binary
// @Router /files/download/{id} [get]
func (h *FileHandler) Download(c *gin.Context) {
	h.serve(c, h.service.Download)
}

// Preview godoc
// @Summary Preview a file inline
// @Tags Files
// @Produce octet-stream
// @Param id path int true "File ID"
// @Success 200 {file} binary
// @Router /files/preview/{id} [get]
func (h *FileHandler) Preview(c *gin.Context) {
	h.serve(c, h.service.Preview)
}

// Blob godoc
// @Summary Stream raw file content inline
// @Tags Files
// @Produce octet-stream
// @Param id path int true "File ID"
// @Success 200 {file} binary
// @Router /files/blob/{id} [get]
func (h *FileHandler) Blob(c *gin.Context) {
	h.serve(c, h.service.Blob)
}

func (h *FileHandler) serve(c *gin.Context, open func(context.Context, int64) (*service.FileContent, error)) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := open(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveContent(c, content)
}

// Template godoc
// @Summary Download the blank question template
// @Tags Files
// @Produce octet-stream
// @Success 200 {file} binary
// @Router /files/download-template [get]
func (h *FileHandler) Template(c *gin.Context) {
	content, err := h.service.Template(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	serveContent(c, content)
}

// SignedLink godoc
// @Summary Issue an expiring download link
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/link [get]
func (h *FileHandler) SignedLink(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.service.SignedLink(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link)
}

// Shared godoc
// @Summary Download a file through a signed link
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /files/shared/{token} [get]
func (h *FileHandler) Shared(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	content, err := h.service.OpenShared(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveContent(c, content)
}

// SoftDelete godoc
// @Summary Move a file to the recycle bin
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id} [delete]
func (h *FileHandler) SoftDelete(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id int64, actor models.Actor) (interface{}, error) {
		return h.service.SoftDelete(ctx, id, actor)
	})
}

// Restore godoc
// @Summary Restore a file from the recycle bin
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/restore [post]
func (h *FileHandler) Restore(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id int64, actor models.Actor) (interface{}, error) {
		return h.service.Restore(ctx, id, actor)
	})
}

// PermanentDelete godoc
// @Summary Permanently delete a recycled file
// @Tags Files
// @Param id path int true "File ID"
// @Success 204
// @Router /files/{id}/permanent [delete]
func (h *FileHandler) PermanentDelete(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id int64, actor models.Actor) (interface{}, error) {
		return nil, h.service.PermanentDelete(ctx, id, actor)
	})
}

// Rollback godoc
// @Summary Undo the last replacement of a file
// @Tags Files
// @Produce json
// @Param id path int true "Current file ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/rollback [post]
func (h *FileHandler) Rollback(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id int64, actor models.Actor) (interface{}, error) {
		return h.service.RollbackReplacement(ctx, id, actor)
	})
}

// mutate runs a single-file mutation. A nil result answers 204.
func (h *FileHandler) mutate(c *gin.Context, run func(context.Context, int64, models.Actor) (interface{}, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := run(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result == nil {
		response.NoContent(c)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// BulkSoftDelete godoc
// @Summary Move several files to the recycle bin
// @Tags Files
// @Accept json
// @Produce json
// @Param payload body dto.BulkFileRequest true "File IDs"
// @Success 200 {object} response.Envelope
// @Router /files/bulk/delete [post]
func (h *FileHandler) BulkSoftDelete(c *gin.Context) {
	h.bulk(c, h.service.BulkSoftDelete)
}

// BulkRestore godoc
// @Summary Restore several recycled files
// @Tags Files
// @Accept json
// @Produce json
// @Param payload body dto.BulkFileRequest true "File IDs"
// @Success 200 {object} response.Envelope
// @Router /files/bulk/restore [post]
func (h *FileHandler) BulkRestore(c *gin.Context) {
	h.bulk(c, h.service.BulkRestore)
}

// BulkPermanentDelete godoc
// @Summary Permanently delete several recycled files
// @Tags Files
// @Accept json
// @Produce json
// @Param payload body dto.BulkFileRequest true "File IDs"
// @Success 200 {object} response.Envelope
// @Router /files/bulk/permanent-delete [post]
func (h *FileHandler) BulkPermanentDelete(c *gin.Context) {
	h.bulk(c, h.service.BulkPermanentDelete)
}

func (h *FileHandler) bulk(c *gin.Context, run func(context.Context, []int64, models.Actor) (*models.BulkResult, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BulkFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid bulk payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids must be a non-empty list of file ids"))
		return
	}
	result, err := run(c.Request.Context(), req.IDs, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ListActive godoc
// @Summary List active files of a question set grouped by category
// @Tags Question Sets
// @Produce json
// @Param id path int true "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /questionsets/{id}/files [get]
func (h *FileHandler) ListActive(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	grouped, err := h.service.ListActive(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.GroupedFilesResponse{QuestionSetID: id, Files: grouped}, middleware.ResponseMeta(c))
}

// ListDeleted godoc
// @Summary List the recycle bin of a question set
// @Tags Question Sets
// @Produce json
// @Param id path int true "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /questionsets/{id}/deleted-files [get]
func (h *FileHandler) ListDeleted(c *gin.Context) {
	h.read(c, "id", func(ctx context.Context, id int64) (interface{}, error) {
		return h.service.ListDeleted(ctx, id)
	})
}

// History godoc
// @Summary List every version of the files of a question set
// @Tags Files
// @Produce json
// @Param questionSetId path int true "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /files/history/{questionSetId} [get]
func (h *FileHandler) History(c *gin.Context) {
	h.read(c, "questionSetId", func(ctx context.Context, id int64) (interface{}, error) {
		return h.service.History(ctx, id)
	})
}

// Completeness godoc
// @Summary Report which file categories a question set has
// @Tags Files
// @Produce json
// @Param questionSetId path int true "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /files/completeness/{questionSetId} [get]
func (h *FileHandler) Completeness(c *gin.Context) {
	h.read(c, "questionSetId", func(ctx context.Context, id int64) (interface{}, error) {
		return h.service.Completeness(ctx, id)
	})
}

// Statistics godoc
// @Summary Aggregate file counts per category
// @Tags Files
// @Produce json
// @Param questionSetId path int true "Question set ID"
// @Success 200 {object} response.Envelope
// @Router /files/statistics/{questionSetId} [get]
func (h *FileHandler) Statistics(c *gin.Context) {
	h.read(c, "questionSetId", func(ctx context.Context, id int64) (interface{}, error) {
		return h.service.Statistics(ctx, id)
	})
}

// Activity godoc
// @Summary List recent uploads and deletions
// @Tags Files
// @Produce json
// @Param questionSetId path int true "Question set ID"
// @Param limit query int false "Maximum entries" default(20)
// @Success 200 {object} response.Envelope
// @Router /files/activity/{questionSetId} [get]
func (h *FileHandler) Activity(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 20)
	h.read(c, "questionSetId", func(ctx context.Context, id int64) (interface{}, error) {
		return h.service.Activity(ctx, id, limit)
	})
}

func (h *FileHandler) read(c *gin.Context, param string, load func(context.Context, int64) (interface{}, error)) {
	id, err := parseIDParam(c, param)
	if err != nil {
		response.Error(c, err)
		return
	}
	data, err := load(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, data, middleware.ResponseMeta(c))
}
