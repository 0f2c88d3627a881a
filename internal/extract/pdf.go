// Package extract pulls raw text out of uploaded documents.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	docerrors "github.com/docchat/docchat/internal/errors"
)

// Document is the extracted form of an uploaded file.
type Document struct {
	// Version is an opaque marker identifying this upload. Each successful
	// upload gets a fresh version; chunks and index entries carry it.
	Version string
	// Pages holds the extracted text of each page, in order.
	Pages []string
	// TotalChars is the total extracted character (rune) count.
	TotalChars int
}

// Text returns the concatenated page texts separated by newlines.
func (d *Document) Text() string {
	return strings.Join(d.Pages, "\n")
}

// ExtractPDF parses PDF bytes into a Document with ordered page texts.
// It returns ErrCodeExtractFailed for unparsable input and
// ErrCodeEmptyDocument when no page yields extractable text (e.g. a
// scanned image with no text layer).
func ExtractPDF(data []byte) (doc *Document, err error) {
	// The pdf library panics on some malformed cross-reference tables;
	// surface those as extraction errors instead of crashing the process.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = docerrors.New(docerrors.ErrCodeExtractFailed,
				fmt.Sprintf("malformed PDF: %v", r), nil)
		}
	}()

	if len(data) == 0 {
		return nil, docerrors.New(docerrors.ErrCodeExtractFailed, "empty upload", nil)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrCodeExtractFailed, err)
	}

	pages := make([]string, 0, reader.NumPage())
	total := 0

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page doesn't fail the whole document.
			pages = append(pages, "")
			continue
		}

		pages = append(pages, text)
		total += len([]rune(text))
	}

	if total == 0 {
		return nil, docerrors.New(docerrors.ErrCodeEmptyDocument,
			"no extractable text in document", nil)
	}

	return &Document{
		Version:    uuid.NewString(),
		Pages:      pages,
		TotalChars: total,
	}, nil
}
