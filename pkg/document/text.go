package document

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Page geometry for plain-text rendering, in points.
const (
	textFontSize   = 12
	textLeftMargin = 50
	textTopMargin  = 50
	textLineHeight = 14
	textBottomGap  = 50
)

// TextRenderer lays out plain text on A4 pages, one input line per drawn line.
type TextRenderer struct {
	// Compress toggles stream compression in the generated PDF.
	Compress bool
}

// NewTextRenderer returns a renderer producing compressed PDFs.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{Compress: true}
}

// RenderFile renders the text file at path.
func (r *TextRenderer) RenderFile(_ context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text: %w", err)
	}
	defer f.Close() //nolint:errcheck

	data, _, err := r.Render(f)
	return data, err
}

// Render returns the PDF bytes and the number of pages produced.
func (r *TextRenderer) Render(src io.Reader) ([]byte, int, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(r.Compress)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "", textFontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	_, pageHeight := pdf.GetPageSize()

	pdf.AddPage()
	y := float64(textTopMargin)

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if y > pageHeight-textBottomGap {
			pdf.AddPage()
			y = textTopMargin
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line != "" {
			pdf.Text(textLeftMargin, y, tr(line))
		}
		y += textLineHeight
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read text: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, 0, fmt.Errorf("render text pdf: %w", err)
	}
	return buf.Bytes(), pdf.PageNo(), nil
}
