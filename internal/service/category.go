package service

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/noah-isme/qbank-api/internal/models"
)

// ErrUnknownCategory is returned for category labels outside the known synonyms.
var ErrUnknownCategory = errors.New("unknown file category")

var categorySynonyms = map[string]models.FileCategory{
	"questions": models.CategoryQuestions,
	"soal":      models.CategoryQuestions,
	"answers":   models.CategoryAnswers,
	"kunci":     models.CategoryAnswers,
	"testcases": models.CategoryTestCases,
	"test":      models.CategoryTestCases,
}

// NormalizeCategory maps a client supplied label onto a canonical category.
// Empty input defaults to questions; answers_<n> slot labels collapse to answers.
func NormalizeCategory(raw string) (models.FileCategory, error) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return models.CategoryQuestions, nil
	}
	if strings.HasPrefix(label, "answers_") {
		return models.CategoryAnswers, nil
	}
	if category, ok := categorySynonyms[label]; ok {
		return category, nil
	}
	return "", ErrUnknownCategory
}

var sourceExtensions = []string{
	".txt", ".js", ".jsx", ".ts", ".tsx", ".py", ".java",
	".c", ".cpp", ".cc", ".cxx", ".h", ".hpp", ".cs",
	".php", ".rb", ".go", ".rs", ".kt", ".kts", ".swift",
	".dart", ".scala", ".r", ".m", ".sh", ".bash", ".sql",
	".html", ".htm", ".css", ".scss", ".sass",
	".json", ".xml", ".yaml", ".yml",
	".pdf", ".docx", ".doc",
}

var allowedExtensions = map[models.FileCategory]map[string]struct{}{
	models.CategoryQuestions: toSet(".pdf", ".docx", ".doc"),
	models.CategoryAnswers:   toSet(sourceExtensions...),
	models.CategoryTestCases: toSet(".txt"),
}

// AllowedExtension reports whether ext (with dot, any case) may be uploaded under category.
func AllowedExtension(category models.FileCategory, ext string) bool {
	_, ok := allowedExtensions[category][strings.ToLower(ext)]
	return ok
}

var languageByExtension = map[string]string{
	".js": "JavaScript", ".jsx": "React",
	".ts": "TypeScript", ".tsx": "TypeScript React",
	".py": "Python", ".java": "Java",
	".c": "C", ".cpp": "C++", ".cc": "C++", ".cxx": "C++",
	".h": "C Header", ".hpp": "C++ Header",
	".cs": "C#", ".php": "PHP", ".rb": "Ruby",
	".go": "Go", ".rs": "Rust", ".kt": "Kotlin", ".kts": "Kotlin",
	".swift": "Swift", ".dart": "Dart", ".scala": "Scala",
	".r": "R", ".m": "MATLAB", ".sh": "Shell", ".bash": "Bash",
	".sql": "SQL", ".html": "HTML", ".htm": "HTML",
	".css": "CSS", ".scss": "SCSS", ".sass": "SASS",
	".json": "JSON", ".xml": "XML", ".yaml": "YAML", ".yml": "YAML",
	".txt": "Text", ".pdf": "PDF", ".docx": "Word", ".doc": "Word",
}

// LanguageForExtension returns the language label for ext, or nil when unknown.
func LanguageForExtension(ext string) *string {
	if lang, ok := languageByExtension[strings.ToLower(ext)]; ok {
		return &lang
	}
	return nil
}

var previewExtensions = toSet(".pdf", ".txt", ".html", ".htm")

// SupportsPreview reports whether files with ext can be shown inline.
func SupportsPreview(ext string) bool {
	_, ok := previewExtensions[strings.ToLower(ext)]
	return ok
}

// FileTypeFromName derives the upper-case type tag from a file name's extension.
func FileTypeFromName(name string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(name), "."))
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
