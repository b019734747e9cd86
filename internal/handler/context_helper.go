package handler

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qbank-api/internal/middleware"
	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/internal/service"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
)

// actorFromContext builds the acting identity from the JWT claims and request.
// ok is false when no claims are present.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		return models.Actor{}, false
	}
	actor := claims.Actor()
	actor.IPAddress = c.ClientIP()
	actor.UserAgent = c.Request.UserAgent()
	return actor, true
}

func parseIDParam(c *gin.Context, key string) (int64, error) {
	raw := strings.TrimSpace(c.Param(key))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid %s", key))
	}
	return id, nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// serveContent streams an opened file and closes it.
func serveContent(c *gin.Context, content *service.FileContent) {
	defer content.Reader.Close() //nolint:errcheck

	disposition := "attachment"
	if content.Inline {
		disposition = "inline"
	}
	size := int64(-1)
	if content.Record != nil && content.Record.FileSize > 0 {
		size = content.Record.FileSize
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, content.ContentType, content.Reader, map[string]string{
		"Content-Disposition": contentDisposition(disposition, content.Filename),
	})
}

func contentDisposition(kind, filename string) string {
	if filename == "" {
		return kind
	}
	if v := mime.FormatMediaType(kind, map[string]string{"filename": filename}); v != "" {
		return v
	}
	return kind
}
