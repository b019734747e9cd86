package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/pkg/document"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

var assemblyTracer = otel.Tracer("qbank-assembly")

// Assembly filters accepted by AssembleMergedPDF.
const (
	AssemblyFilterQuestions = "questions"
	AssemblyFilterAnswers   = "answers"
)

const (
	defaultBundleTitle = "Soal_Lengkap"
	placeholderReason  = "This file cannot be merged directly. Download it separately from the question set."
)

type assemblyFileLister interface {
	ListByParents(ctx context.Context, parentIDs []int64, filter models.FileFilter) ([]models.FileRecord, error)
}

type questionSetLister interface {
	ListByIDs(ctx context.Context, ids []int64) ([]models.QuestionSet, error)
}

type documentConverter interface {
	Supports(fileType string) bool
	Convert(ctx context.Context, path, fileType string) ([]byte, error)
}

// SkippedFile names a file left out of an assembled document.
type SkippedFile struct {
	FileID int64  `json:"fileId"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// MergedDocument is an assembled PDF ready to send.
type MergedDocument struct {
	Filename string
	Data     []byte
	Pages    int
	Skipped  []SkippedFile
}

// ZipBundle is a prepared archive. Nothing is read from storage until WriteTo.
type ZipBundle struct {
	Filename string
	Skipped  []SkippedFile
	bundle   *document.Bundle
}

// Entries lists the archive entry names in order.
func (z *ZipBundle) Entries() []string {
	return z.bundle.Names()
}

// WriteTo streams the archive to w until done or ctx is cancelled.
func (z *ZipBundle) WriteTo(ctx context.Context, w io.Writer) error {
	return z.bundle.WriteTo(ctx, w)
}

// AssemblyService merges question files into PDFs and ZIP bundles.
type AssemblyService struct {
	files     assemblyFileLister
	sets      questionSetLister
	blobs     storage.BlobStore
	converter documentConverter
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAssemblyService constructs the service.
func NewAssemblyService(files assemblyFileLister, sets questionSetLister, blobs storage.BlobStore, converter documentConverter, metrics *MetricsService, logger *zap.Logger) *AssemblyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssemblyService{files: files, sets: sets, blobs: blobs, converter: converter, metrics: metrics, logger: logger}
}

// AssembleMergedPDF merges the active files of the question sets into one PDF.
// The questions filter covers question and test case files, answers covers answer keys.
// Files that cannot be converted are skipped; the call fails only when nothing converted.
func (s *AssemblyService) AssembleMergedPDF(ctx context.Context, parentIDs []int64, filter string) (*MergedDocument, error) {
	start := time.Now()
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		filter = AssemblyFilterQuestions
	}
	categories, err := categoriesForFilter(filter)
	if err != nil {
		return nil, err
	}
	ids := uniqueIDs(parentIDs)
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one question set id is required")
	}

	ctx, span := assemblyTracer.Start(ctx, "assembly.merged_pdf", trace.WithAttributes(
		attribute.Int64Slice("question_set_ids", ids),
		attribute.String("filter", filter),
	))
	defer span.End()

	files, err := s.listFiles(ctx, ids, categories)
	if err != nil {
		return nil, err
	}

	builder := document.NewPDFBuilder()
	var skipped []SkippedFile
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.appendFile(ctx, builder, file); err != nil {
			skipped = append(skipped, s.skip(file, err))
		}
	}

	doc, err := s.render(builder, skipped)
	if err != nil {
		return nil, err
	}
	doc.Filename = fmt.Sprintf("combine_%s_%s.pdf", joinIDs(ids), filter)
	span.SetAttributes(attribute.Int("pages", doc.Pages), attribute.Int("skipped", len(skipped)))
	s.metrics.ObserveAssembly("merged_pdf", doc.Pages, time.Since(start))
	return doc, nil
}

// CombineForDownload merges every active file of the question sets. Files with no
// PDF conversion get a placeholder page naming them instead of being dropped.
func (s *AssemblyService) CombineForDownload(ctx context.Context, parentIDs []int64) (*MergedDocument, error) {
	start := time.Now()
	ids := uniqueIDs(parentIDs)
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one question set id is required")
	}

	ctx, span := assemblyTracer.Start(ctx, "assembly.combine_download", trace.WithAttributes(
		attribute.Int64Slice("question_set_ids", ids),
	))
	defer span.End()

	files, err := s.listFiles(ctx, ids, nil)
	if err != nil {
		return nil, err
	}

	builder := document.NewPDFBuilder()
	var skipped []SkippedFile
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.converter.Supports(file.FileType) {
			builder.AppendPlaceholder(file.OriginalName, file.FileType, placeholderReason)
			continue
		}
		if err := s.appendFile(ctx, builder, file); err != nil {
			skipped = append(skipped, s.skip(file, err))
		}
	}

	doc, err := s.render(builder, skipped)
	if err != nil {
		return nil, err
	}
	doc.Filename = fmt.Sprintf("combined_soal_%s.pdf", joinIDs(ids))
	s.metrics.ObserveAssembly("combine_download", doc.Pages, time.Since(start))
	return doc, nil
}

// PrepareZipBundle lays out a download archive for the question sets: one merged
// questions PDF plus the original answer key and test case files. The merged PDF
// is built here so every failure surfaces before the first byte is streamed.
func (s *AssemblyService) PrepareZipBundle(ctx context.Context, parentIDs []int64, formTitle string) (*ZipBundle, error) {
	start := time.Now()
	ids := uniqueIDs(parentIDs)
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one question set id is required")
	}

	ctx, span := assemblyTracer.Start(ctx, "assembly.zip_bundle", trace.WithAttributes(
		attribute.Int64Slice("question_set_ids", ids),
	))
	defer span.End()

	files, err := s.listFiles(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	titles, err := s.setTitles(ctx, ids)
	if err != nil {
		return nil, err
	}

	title := SanitizeTitle(formTitle)
	if title == "" {
		title = defaultBundleTitle
	}

	bundle := document.NewBundle()
	builder := document.NewPDFBuilder()
	var skipped []SkippedFile
	var originals []models.FileRecord
	for _, file := range files {
		if file.Category != models.CategoryQuestions {
			originals = append(originals, file)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.appendFile(ctx, builder, file); err != nil {
			skipped = append(skipped, s.skip(file, err))
		}
	}
	if builder.Pages() > 0 {
		data, err := builder.Bytes()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render merged questions")
		}
		bundle.AddBytes(fmt.Sprintf("01_Soal/%s_SOAL_GABUNGAN.pdf", title), data)
	}

	for _, file := range originals {
		setTitle := titles[file.QuestionSetID]
		if setTitle == "" {
			setTitle = fmt.Sprintf("SetID_%d", file.QuestionSetID)
		}
		ext := filepath.Ext(file.OriginalName)
		var name string
		switch file.Category {
		case models.CategoryAnswers:
			name = fmt.Sprintf("02_Kunci_Jawaban/%s_KunciJawaban%s", setTitle, ext)
		case models.CategoryTestCases:
			name = fmt.Sprintf("03_Test_Case/%s_TestCase%s", setTitle, ext)
		default:
			continue
		}
		key := file.StoragePath
		bundle.AddBlob(name, func(ctx context.Context) (io.ReadCloser, error) {
			return s.blobs.Open(ctx, key)
		})
	}

	if bundle.Len() == 0 {
		return nil, appErrors.Clone(appErrors.ErrConversionFailed, "no file could be added to the bundle")
	}
	span.SetAttributes(attribute.Int("entries", bundle.Len()), attribute.Int("skipped", len(skipped)))
	s.metrics.ObserveAssembly("zip_bundle", builder.Pages(), time.Since(start))
	return &ZipBundle{Filename: title + "_BUNDLE.zip", Skipped: skipped, bundle: bundle}, nil
}

func (s *AssemblyService) listFiles(ctx context.Context, ids []int64, categories []models.FileCategory) ([]models.FileRecord, error) {
	files, err := s.files.ListByParents(ctx, ids, models.FileFilter{Categories: categories})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no files found for the selected question sets")
	}
	return files, nil
}

func (s *AssemblyService) setTitles(ctx context.Context, ids []int64) (map[int64]string, error) {
	sets, err := s.sets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question sets")
	}
	titles := make(map[int64]string, len(sets))
	for _, set := range sets {
		titles[set.ID] = SanitizeTitle(set.Title)
	}
	return titles, nil
}

// appendFile converts one stored file and appends all of its pages.
func (s *AssemblyService) appendFile(ctx context.Context, builder *document.PDFBuilder, file models.FileRecord) error {
	if !s.converter.Supports(file.FileType) {
		return fmt.Errorf("%w: %s", document.ErrUnsupportedFormat, file.FileType)
	}
	ctx, span := assemblyTracer.Start(ctx, "assembly.convert", trace.WithAttributes(
		attribute.Int64("file_id", file.ID),
		attribute.String("file_type", file.FileType),
	))
	defer span.End()

	localPath, release, err := s.blobs.LocalPath(ctx, file.StoragePath)
	if err != nil {
		span.RecordError(err)
		return err
	}
	data, err := s.converter.Convert(ctx, localPath, file.FileType)
	release()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if _, err := builder.AppendPDF(data); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *AssemblyService) skip(file models.FileRecord, err error) SkippedFile {
	s.metrics.RecordConversionFailure(file.FileType)
	s.logger.Warn("file skipped during assembly",
		zap.Int64("file_id", file.ID),
		zap.String("file_type", file.FileType),
		zap.Error(err),
	)
	reason := "conversion failed"
	switch {
	case errors.Is(err, document.ErrUnsupportedFormat):
		reason = "unsupported format"
	case errors.Is(err, storage.ErrObjectNotFound):
		reason = "content missing from storage"
	}
	return SkippedFile{FileID: file.ID, Name: file.OriginalName, Reason: reason}
}

func (s *AssemblyService) render(builder *document.PDFBuilder, skipped []SkippedFile) (*MergedDocument, error) {
	if builder.Pages() == 0 {
		return nil, appErrors.ErrConversionFailed
	}
	data, err := builder.Bytes()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render merged document")
	}
	return &MergedDocument{Data: data, Pages: builder.Pages(), Skipped: skipped}, nil
}

func categoriesForFilter(filter string) ([]models.FileCategory, error) {
	switch filter {
	case AssemblyFilterQuestions:
		return []models.FileCategory{models.CategoryQuestions, models.CategoryTestCases}, nil
	case AssemblyFilterAnswers:
		return []models.FileCategory{models.CategoryAnswers}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown type %q, expected questions or answers", filter))
	}
}

var (
	titleUnsafe     = regexp.MustCompile(`[^\w\s-]`)
	titleWhitespace = regexp.MustCompile(`\s+`)
)

// SanitizeTitle makes a title safe for archive entry names: characters outside
// word characters, whitespace and '-' are dropped and whitespace runs become '_'.
func SanitizeTitle(raw string) string {
	cleaned := strings.TrimSpace(titleUnsafe.ReplaceAllString(raw, ""))
	return titleWhitespace.ReplaceAllString(cleaned, "_")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "_")
}
