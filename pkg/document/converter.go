// Package document turns stored question files into PDF pages and packages
// them for download.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnsupportedFormat is returned for file types that have no PDF conversion.
var ErrUnsupportedFormat = errors.New("document: unsupported format")

// Supported source types.
const (
	TypePDF  = "PDF"
	TypeDOCX = "DOCX"
	TypeTXT  = "TXT"
)

type convertFunc func(ctx context.Context, path string) ([]byte, error)

// Converter dispatches a stored file to the handler registered for its type.
type Converter struct {
	handlers map[string]convertFunc
}

// NewConverter registers the PDF passthrough plus the DOCX and TXT handlers.
// A nil office converter leaves DOCX unsupported.
func NewConverter(office *OfficeConverter, text *TextRenderer) *Converter {
	if text == nil {
		text = NewTextRenderer()
	}
	c := &Converter{handlers: map[string]convertFunc{
		TypePDF: readPDF,
		TypeTXT: text.RenderFile,
	}}
	if office != nil {
		c.handlers[TypeDOCX] = office.Convert
	}
	return c
}

// Supports reports whether fileType has a registered handler.
func (c *Converter) Supports(fileType string) bool {
	_, ok := c.handlers[strings.ToUpper(fileType)]
	return ok
}

// Convert returns the PDF bytes for the file at path.
func (c *Converter) Convert(ctx context.Context, path, fileType string) ([]byte, error) {
	handler, ok := c.handlers[strings.ToUpper(fileType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return handler(ctx, path)
}

func readPDF(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return data, nil
}
