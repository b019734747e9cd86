package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

// ErrEmptyDocument is returned when a merged document has no pages.
var ErrEmptyDocument = errors.New("document: no pages")

const mediaBox = "/MediaBox"

type pageSize struct {
	w, h float64
}

// PDFBuilder appends whole PDFs and generated pages into one document.
type PDFBuilder struct {
	doc      *gofpdf.Fpdf
	importer *gofpdi.Importer
	// sources keeps every stream alive; the importer keys sources by pointer.
	sources []*io.ReadSeeker
	pages   int
}

// NewPDFBuilder returns an empty builder.
func NewPDFBuilder() *PDFBuilder {
	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetAutoPageBreak(false, 0)
	return &PDFBuilder{doc: doc, importer: gofpdi.NewImporter()}
}

// Pages returns the number of pages appended so far.
func (b *PDFBuilder) Pages() int {
	return b.pages
}

// AppendPDF appends every page of data. The source is validated before any of
// its pages touch the merged document, so a broken file leaves the builder unchanged.
func (b *PDFBuilder) AppendPDF(data []byte) (int, error) {
	sizes, err := probe(data)
	if err != nil {
		return 0, err
	}

	err = safely(func() {
		var rs io.ReadSeeker = bytes.NewReader(data)
		b.sources = append(b.sources, &rs)
		for i, size := range sizes {
			tpl := b.importer.ImportPageFromStream(b.doc, &rs, i+1, mediaBox)
			b.doc.AddPageFormat("P", gofpdf.SizeType{Wd: size.w, Ht: size.h})
			b.importer.UseImportedTemplate(b.doc, tpl, 0, 0, size.w, size.h)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("import pdf: %w", err)
	}
	if err := b.doc.Error(); err != nil {
		return 0, fmt.Errorf("import pdf: %w", err)
	}
	b.pages += len(sizes)
	return len(sizes), nil
}

// AppendPlaceholder adds a notice page for a file that could not be rendered.
func (b *PDFBuilder) AppendPlaceholder(name, fileType, reason string) {
	tr := b.doc.UnicodeTranslatorFromDescriptor("")
	b.doc.AddPageFormat("P", gofpdf.SizeType{Wd: 595.28, Ht: 841.89})
	b.doc.SetFont("Arial", "B", 16)
	b.doc.Text(textLeftMargin, 80, tr("File: "+name))
	b.doc.SetFont("Arial", "", 12)
	b.doc.Text(textLeftMargin, 110, tr("Type: "+fileType))
	b.doc.SetXY(textLeftMargin, 130)
	b.doc.MultiCell(495, textLineHeight+2, tr(reason), "", "L", false)
	b.pages++
}

// Bytes renders the merged document.
func (b *PDFBuilder) Bytes() ([]byte, error) {
	if b.pages == 0 {
		return nil, ErrEmptyDocument
	}
	buf := &bytes.Buffer{}
	if err := b.doc.Output(buf); err != nil {
		return nil, fmt.Errorf("render merged pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	sizes, err := probe(data)
	if err != nil {
		return 0, err
	}
	return len(sizes), nil
}

// probe parses data with a throwaway importer and returns the page sizes in order.
func probe(data []byte) ([]pageSize, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	var sizes []pageSize
	err := safely(func() {
		scratch := gofpdf.New("P", "pt", "A4", "")
		imp := gofpdi.NewImporter()
		var rs io.ReadSeeker = bytes.NewReader(data)
		imp.ImportPageFromStream(scratch, &rs, 1, mediaBox)

		boxes := imp.GetPageSizes()
		pages := make([]int, 0, len(boxes))
		for p := range boxes {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		for _, p := range pages {
			box := boxes[p][mediaBox]
			sizes = append(sizes, pageSize{w: box["w"], h: box["h"]})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	if len(sizes) == 0 {
		return nil, ErrEmptyDocument
	}
	return sizes, nil
}

// safely converts panics raised by the PDF parser into errors.
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}
