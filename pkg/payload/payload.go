// Package payload builds and validates the visual and tabular outputs that
// are handed to a backend for interpretation.
package payload

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"

	"github.com/fpt/kanoa/internal/repository"
	"github.com/fpt/kanoa/pkg/domain"
)

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// FromImage wraps rendered figure bytes. The MIME type is sniffed from the data.
func FromImage(name string, data []byte) domain.Payload {
	return domain.Payload{
		Kind:     domain.PayloadImage,
		Name:     name,
		MIMEType: detectMIME(data),
		Data:     data,
	}
}

// FromPDF wraps a rendered PDF figure or report page.
func FromPDF(name string, data []byte) domain.Payload {
	return domain.Payload{
		Kind:     domain.PayloadPDF,
		Name:     name,
		MIMEType: "application/pdf",
		Data:     data,
	}
}

// FromReference points at a payload already stored remotely (gs://, https://).
func FromReference(uri, mimeType string) domain.Payload {
	kind := domain.PayloadImage
	if mimeType == "application/pdf" {
		kind = domain.PayloadPDF
	}
	return domain.Payload{Kind: kind, Name: filepath.Base(uri), MIMEType: mimeType, URI: uri}
}

// IsReference reports whether s names a remote object rather than a local file.
func IsReference(s string) bool {
	return strings.HasPrefix(s, "gs://") || strings.HasPrefix(s, "https://")
}

// ParseReference builds a reference payload for a gs:// or https:// URI.
// An empty mimeType is inferred from the extension of the URI path.
func ParseReference(uri, mimeType string) (domain.Payload, error) {
	u, err := url.Parse(uri)
	if err != nil || !IsReference(uri) || u.Host == "" {
		return domain.Payload{}, &domain.UnsupportedPayloadError{Reason: "not a gs:// or https:// URI: " + uri}
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	if mimeType != "application/pdf" && !supportedImageTypes[mimeType] {
		return domain.Payload{}, &domain.UnsupportedPayloadError{
			Kind:   mimeType,
			Reason: "references must be images or PDFs; set the MIME type explicitly for " + uri,
		}
	}
	p := FromReference(uri, mimeType)
	if base := path.Base(u.Path); base != "." && base != "/" {
		p.Name = base
	}
	return p, nil
}

// FromTable wraps a data frame given as column names and rows.
func FromTable(name string, columns []string, rows [][]string) domain.Payload {
	return domain.Payload{
		Kind:  domain.PayloadTable,
		Name:  name,
		Table: &domain.Table{Columns: columns, Rows: rows},
	}
}

// FromText wraps a statistical summary or other plain-text output.
func FromText(name, text string) domain.Payload {
	return domain.Payload{Kind: domain.PayloadText, Name: name, MIMEType: "text/plain", Text: text}
}

// FromCSV parses CSV bytes into a table payload; the first record is the header.
func FromCSV(name string, data []byte) (domain.Payload, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return domain.Payload{}, &domain.UnsupportedPayloadError{Kind: string(domain.PayloadTable), Reason: err.Error()}
	}
	if len(records) == 0 {
		return domain.Payload{}, &domain.UnsupportedPayloadError{Kind: string(domain.PayloadTable), Reason: "empty CSV"}
	}
	return FromTable(name, records[0], records[1:]), nil
}

// Load reads a payload from disk and picks its kind from extension and content.
func Load(ctx context.Context, fsys repository.FilesystemRepository, path string) (domain.Payload, error) {
	data, err := fsys.ReadFile(ctx, path)
	if err != nil {
		return domain.Payload{}, errors.Wrapf(err, "read payload %s", path)
	}
	return Detect(filepath.Base(path), data)
}

// Detect picks the payload kind for data from the name's extension and the
// content itself.
func Detect(name string, data []byte) (domain.Payload, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FromCSV(name, data)
	case ".txt", ".md":
		return FromText(name, string(data)), nil
	case ".pdf":
		return FromPDF(name, data), nil
	}

	detected := detectMIME(data)
	switch {
	case detected == "application/pdf":
		return FromPDF(name, data), nil
	case strings.HasPrefix(detected, "image/"):
		return FromImage(name, data), nil
	case strings.HasPrefix(detected, "text/"):
		return FromText(name, string(data)), nil
	}
	return domain.Payload{}, &domain.UnsupportedPayloadError{Kind: detected, Reason: "unrecognised file " + name}
}

// Validate checks that p is something a backend can interpret.
func Validate(p *domain.Payload) error {
	if p == nil {
		return &domain.UnsupportedPayloadError{Reason: "no payload"}
	}
	kind := string(p.Kind)

	switch p.Kind {
	case domain.PayloadImage:
		if len(p.Data) == 0 && p.URI == "" {
			return &domain.UnsupportedPayloadError{Kind: kind, Reason: "empty image"}
		}
		if !supportedImageTypes[p.MIMEType] {
			return &domain.UnsupportedPayloadError{Kind: kind, Reason: fmt.Sprintf("image type %q is not supported", p.MIMEType)}
		}
	case domain.PayloadPDF:
		if len(p.Data) == 0 && p.URI == "" {
			return &domain.UnsupportedPayloadError{Kind: kind, Reason: "empty PDF"}
		}
		if len(p.Data) > 0 {
			if _, err := PageCount(p.Data); err != nil {
				return &domain.UnsupportedPayloadError{Kind: kind, Reason: err.Error()}
			}
		}
	case domain.PayloadTable:
		if p.Table == nil || len(p.Table.Columns) == 0 {
			return &domain.UnsupportedPayloadError{Kind: kind, Reason: "table has no columns"}
		}
		for i, row := range p.Table.Rows {
			if len(row) != len(p.Table.Columns) {
				return &domain.UnsupportedPayloadError{
					Kind:   kind,
					Reason: fmt.Sprintf("row %d has %d cells, expected %d", i, len(row), len(p.Table.Columns)),
				}
			}
		}
	case domain.PayloadText:
		if strings.TrimSpace(p.Text) == "" {
			return &domain.UnsupportedPayloadError{Kind: kind, Reason: "empty text"}
		}
	default:
		return &domain.UnsupportedPayloadError{Kind: kind, Reason: "unknown payload kind"}
	}
	return nil
}

// Render returns the prompt text for non-binary payloads, empty for binary ones.
func Render(p *domain.Payload) string {
	switch p.Kind {
	case domain.PayloadTable:
		return "Data to analyze:\n```\n" + renderCSV(p.Table) + "```\n"
	case domain.PayloadText:
		return "Data to analyze:\n```\n" + strings.TrimRight(p.Text, "\n") + "\n```\n"
	}
	return ""
}

// PageCount returns the number of pages in a PDF document.
func PageCount(data []byte) (int, error) {
	info, err := api.PDFInfo(bytes.NewReader(data), "payload.pdf", nil, false, model.NewDefaultConfiguration())
	if err != nil {
		return 0, errors.Wrap(err, "invalid PDF")
	}
	if info.Encrypted {
		return 0, errors.New("encrypted PDF")
	}
	return info.PageCount, nil
}

func renderCSV(t *domain.Table) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(t.Columns)
	_ = w.WriteAll(t.Rows)
	return buf.String()
}

func detectMIME(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return ct
}
