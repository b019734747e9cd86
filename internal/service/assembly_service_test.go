package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/pkg/document"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

type assemblyFixture struct {
	svc   *AssemblyService
	files *memoryFileStore
	store *storage.LocalStorage
}

func newAssemblyFixture(t *testing.T) *assemblyFixture {
	t.Helper()
	f := &assemblyFixture{files: newMemoryFileStore(), store: newTestStorage(t)}
	sets := newQuestionSetStub(
		models.QuestionSet{ID: 1, Title: "Graf & Pohon", CreatedBy: ownerID},
		models.QuestionSet{ID: 2, Title: "Rekursi", CreatedBy: ownerID},
	)
	f.svc = NewAssemblyService(f.files, sets, f.store, document.NewConverter(nil, nil), NewMetricsService(), nil)
	return f
}

// add stores data under key and inserts an active row pointing at it.
func (f *assemblyFixture) add(t *testing.T, setID int64, category models.FileCategory, name, fileType string, data []byte) {
	t.Helper()
	key := string(category) + "/" + name
	_, err := f.store.Save(context.Background(), key, bytes.NewReader(data))
	require.NoError(t, err)
	f.files.seed(models.FileRecord{
		OriginalName:  name,
		StoragePath:   key,
		FileType:      fileType,
		Category:      category,
		QuestionSetID: setID,
	})
}

// pdfWithPages renders a text PDF long enough to span the requested pages.
func pdfWithPages(t *testing.T, pages int) []byte {
	t.Helper()
	lines := make([]string, 53*pages)
	for i := range lines {
		lines[i] = "soal"
	}
	data, n, err := document.NewTextRenderer().Render(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.Equal(t, pages, n)
	return data
}

func TestAssembleMergedPDFSkipsUnsupportedFiles(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 1, models.CategoryQuestions, "soal.pdf", "PDF", pdfWithPages(t, 2))
	f.add(t, 1, models.CategoryQuestions, "soal.docx", "DOCX", []byte("PK not really docx"))
	f.add(t, 1, models.CategoryTestCases, "cases.txt", "TXT", []byte("1 2\n3 4\n"))
	f.add(t, 1, models.CategoryAnswers, "kunci.pdf", "PDF", pdfWithPages(t, 1))

	doc, err := f.svc.AssembleMergedPDF(context.Background(), []int64{1}, "Questions")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Pages)
	pages, err := document.PageCount(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	require.Len(t, doc.Skipped, 1)
	assert.Equal(t, "soal.docx", doc.Skipped[0].Name)
	assert.Equal(t, "unsupported format", doc.Skipped[0].Reason)
	assert.Equal(t, "combine_1_questions.pdf", doc.Filename)
}

func TestAssembleMergedPDFAnswersOnly(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 1, models.CategoryQuestions, "soal.pdf", "PDF", pdfWithPages(t, 2))
	f.add(t, 2, models.CategoryAnswers, "kunci.pdf", "PDF", pdfWithPages(t, 1))

	doc, err := f.svc.AssembleMergedPDF(context.Background(), []int64{1, 2}, "answers")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Pages)
	assert.Equal(t, "combine_1_2_answers.pdf", doc.Filename)
}

func TestAssembleMergedPDFFailures(t *testing.T) {
	f := newAssemblyFixture(t)
	ctx := context.Background()

	_, err := f.svc.AssembleMergedPDF(ctx, []int64{1}, "rubric")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AssembleMergedPDF(ctx, nil, "questions")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AssembleMergedPDF(ctx, []int64{1}, "questions")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	f.add(t, 1, models.CategoryQuestions, "soal.docx", "DOCX", []byte("PK"))
	f.add(t, 1, models.CategoryQuestions, "rusak.pdf", "PDF", []byte("%PDF-1.4 truncated"))
	_, err = f.svc.AssembleMergedPDF(ctx, []int64{1}, "questions")
	assert.ErrorIs(t, err, appErrors.ErrConversionFailed)
}

func TestAssembleMergedPDFReportsMissingBlob(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 1, models.CategoryQuestions, "soal.pdf", "PDF", pdfWithPages(t, 1))
	f.files.seed(models.FileRecord{
		OriginalName: "hilang.pdf", StoragePath: "questions/hilang.pdf", FileType: "PDF",
		Category: models.CategoryQuestions, QuestionSetID: 1,
	})

	doc, err := f.svc.AssembleMergedPDF(context.Background(), []int64{1}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Pages)
	require.Len(t, doc.Skipped, 1)
	assert.Equal(t, "content missing from storage", doc.Skipped[0].Reason)
}

func TestCombineForDownloadUsesPlaceholders(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 1, models.CategoryQuestions, "soal.pdf", "PDF", pdfWithPages(t, 2))
	f.add(t, 1, models.CategoryAnswers, "kunci.py", "PY", []byte("print(42)\n"))

	doc, err := f.svc.CombineForDownload(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Pages)
	assert.Empty(t, doc.Skipped)
	assert.Equal(t, "combined_soal_1.pdf", doc.Filename)
}

func TestPrepareZipBundleLayout(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 1, models.CategoryQuestions, "soal.pdf", "PDF", pdfWithPages(t, 1))
	f.add(t, 1, models.CategoryAnswers, "kunci.py", "PY", []byte("print(42)\n"))
	f.add(t, 1, models.CategoryTestCases, "cases.txt", "TXT", []byte("1\n"))
	f.add(t, 2, models.CategoryQuestions, "rekursi.pdf", "PDF", pdfWithPages(t, 2))
	f.add(t, 2, models.CategoryAnswers, "kunci.py", "PY", []byte("print(7)\n"))

	bundle, err := f.svc.PrepareZipBundle(context.Background(), []int64{1, 2}, "UTS  Semester: Ganjil!")
	require.NoError(t, err)
	assert.Equal(t, "UTS_Semester_Ganjil_BUNDLE.zip", bundle.Filename)
	assert.Equal(t, []string{
		"01_Soal/UTS_Semester_Ganjil_SOAL_GABUNGAN.pdf",
		"02_Kunci_Jawaban/Graf_Pohon_KunciJawaban.py",
		"03_Test_Case/Graf_Pohon_TestCase.txt",
		"02_Kunci_Jawaban/Rekursi_KunciJawaban.py",
	}, bundle.Entries())

	var buf bytes.Buffer
	require.NoError(t, bundle.WriteTo(context.Background(), &buf))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 4)

	contents := map[string][]byte{}
	for _, entry := range zr.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		contents[entry.Name] = data
	}
	pages, err := document.PageCount(contents["01_Soal/UTS_Semester_Ganjil_SOAL_GABUNGAN.pdf"])
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, "print(7)\n", string(contents["02_Kunci_Jawaban/Rekursi_KunciJawaban.py"]))
}

func TestPrepareZipBundleDefaultsAndEmptyResult(t *testing.T) {
	f := newAssemblyFixture(t)
	f.add(t, 9, models.CategoryAnswers, "kunci.java", "JAVA", []byte("class A {}"))

	bundle, err := f.svc.PrepareZipBundle(context.Background(), []int64{9}, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Soal_Lengkap_BUNDLE.zip", bundle.Filename)
	assert.Equal(t, []string{"02_Kunci_Jawaban/SetID_9_KunciJawaban.java"}, bundle.Entries())

	empty := newAssemblyFixture(t)
	empty.add(t, 1, models.CategoryQuestions, "soal.docx", "DOCX", []byte("PK"))
	_, err = empty.svc.PrepareZipBundle(context.Background(), []int64{1}, "UTS")
	assert.ErrorIs(t, err, appErrors.ErrConversionFailed)
}

func TestSanitizeTitle(t *testing.T) {
	cases := map[string]string{
		"Ujian Akhir":          "Ujian_Akhir",
		"  Graf & Pohon  ":     "Graf_Pohon",
		"UTS-2026 (Ganjil)":    "UTS-2026_Ganjil",
		"../../etc/passwd":     "etcpasswd",
		"":                     "",
		"snake_case\tand tabs": "snake_case_and_tabs",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeTitle(in), in)
	}
}
