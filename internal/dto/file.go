package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/qbank-api/internal/models"
)

// UploadFileRequest holds the form fields sent with an uploaded file.
type UploadFileRequest struct {
	QuestionSetID int64  `form:"questionSetId" validate:"required,gt=0"`
	FileCategory  string `form:"fileCategory" validate:"omitempty,max=32"`
}

// ReplaceFileRequest holds the form fields sent with a replacement file.
type ReplaceFileRequest struct {
	ReplaceFileID int64 `form:"replaceFileId" validate:"required,gt=0"`
	QuestionSetID int64 `form:"questionSetId" validate:"omitempty,gt=0"`
}

// BulkFileRequest lists the files a bulk operation targets.
type BulkFileRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=500,dive,gt=0"`
}

// BundleQuery captures the assembly query string.
type BundleQuery struct {
	IDs       string `form:"ids" validate:"required"`
	FormTitle string `form:"formTitle" validate:"omitempty,max=120"`
}

// GroupedFilesResponse lists the active files of a question set keyed by category.
type GroupedFilesResponse struct {
	QuestionSetID int64                                       `json:"questionSetId"`
	Files         map[models.FileCategory][]models.FileRecord `json:"files"`
}

// ParseIDList parses a comma separated list of positive ids such as "1,2,3".
func ParseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}
