// Package importer turns files on disk into Book records. Plain text and
// UTF-8 markdown are read directly; PDFs go through text extraction. The
// engine only ever sees the resulting raw text.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"marginalia/internal/domain"
	"marginalia/internal/logging"
)

// maxBookBytes bounds imported text so a malformed file cannot balloon the
// store. 32MB of UTF-8 is far past any real book.
const maxBookBytes = 32 << 20

type Importer struct {
	logger logging.Logger
}

func New(logger logging.Logger) *Importer {
	return &Importer{logger: logging.OrNop(logger)}
}

// Import reads path and builds an unsaved Book. The title defaults to the
// file name without its extension. Extraction checks ctx between pages, so
// an abandoned import stops promptly on large PDFs.
func (im *Importer) Import(ctx context.Context, path string) (domain.Book, error) {
	var (
		content string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		content, err = im.extractPDF(ctx, path)
	case ".txt", ".md", "":
		content, err = im.readText(path)
	default:
		return domain.Book{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return domain.Book{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.Book{}, fmt.Errorf("no text content in %s", filepath.Base(path))
	}

	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))

	return domain.Book{
		ID:      domain.NewID(),
		Title:   title,
		Content: content,
		AddedAt: time.Now(),
	}, nil
}

func (im *Importer) readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBookBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) > maxBookBytes {
		return "", fmt.Errorf("%s exceeds the %dMB import limit", filepath.Base(path), maxBookBytes>>20)
	}
	return string(data), nil
}

func (im *Importer) extractPDF(ctx context.Context, path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var builder strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with broken font maps happen in the wild; skip them
			// rather than fail the whole book.
			im.logger.Warn("pdf page %d of %s unreadable: %v", i, filepath.Base(path), err)
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
		if builder.Len() > maxBookBytes {
			return "", fmt.Errorf("%s exceeds the %dMB import limit", filepath.Base(path), maxBookBytes>>20)
		}
	}
	return builder.String(), nil
}
