package payload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/pkg/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestFromImageDetectsMIME(t *testing.T) {
	p := FromImage("fig.png", pngHeader)
	if p.MIMEType != "image/png" {
		t.Fatalf("MIMEType = %q, want image/png", p.MIMEType)
	}
	if err := Validate(&p); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		p    *domain.Payload
	}{
		{"nil", nil},
		{"empty image", &domain.Payload{Kind: domain.PayloadImage, MIMEType: "image/png"}},
		{"svg image", &domain.Payload{Kind: domain.PayloadImage, MIMEType: "image/svg+xml", Data: []byte("<svg/>")}},
		{"ragged table", &domain.Payload{Kind: domain.PayloadTable, Table: &domain.Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1"}}}}},
		{"no columns", &domain.Payload{Kind: domain.PayloadTable, Table: &domain.Table{}}},
		{"blank text", &domain.Payload{Kind: domain.PayloadText, Text: "  \n"}},
		{"broken pdf", &domain.Payload{Kind: domain.PayloadPDF, Data: []byte("not a pdf")}},
		{"unknown kind", &domain.Payload{Kind: "audio", Data: []byte{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.p)
			var upe *domain.UnsupportedPayloadError
			if !errors.As(err, &upe) {
				t.Fatalf("expected UnsupportedPayloadError, got %v", err)
			}
		})
	}
}

func TestRenderTable(t *testing.T) {
	p := FromTable("df", []string{"x", "y"}, [][]string{{"1", "2"}, {"3", "4"}})
	if err := Validate(&p); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	got := Render(&p)
	want := "Data to analyze:\n```\nx,y\n1,2\n3,4\n```\n"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderBinaryIsEmpty(t *testing.T) {
	p := FromImage("fig.png", pngHeader)
	if got := Render(&p); got != "" {
		t.Errorf("Render() = %q, want empty", got)
	}
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(csvPath, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	imgPath := filepath.Join(dir, "figure.bin")
	if err := os.WriteFile(imgPath, pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	fsys := infra.NewOSFilesystemRepository()
	ctx := context.Background()

	p, err := Load(ctx, fsys, csvPath)
	if err != nil {
		t.Fatalf("Load(csv) error = %v", err)
	}
	if p.Kind != domain.PayloadTable || len(p.Table.Rows) != 1 {
		t.Errorf("unexpected table payload: %+v", p)
	}

	p, err = Load(ctx, fsys, imgPath)
	if err != nil {
		t.Fatalf("Load(png) error = %v", err)
	}
	if p.Kind != domain.PayloadImage || p.MIMEType != "image/png" {
		t.Errorf("unexpected image payload: %+v", p)
	}

	if _, err := Load(ctx, fsys, filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFromCSVEmpty(t *testing.T) {
	_, err := FromCSV("empty", nil)
	if err == nil || !strings.Contains(err.Error(), "empty CSV") {
		t.Errorf("expected empty CSV error, got %v", err)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		uri, mimeType string
		kind          domain.PayloadKind
		wantMIME      string
		name          string
	}{
		{"gs://bucket/figs/plot.png", "", domain.PayloadImage, "image/png", "plot.png"},
		{"https://example.org/report.pdf?token=abc", "", domain.PayloadPDF, "application/pdf", "report.pdf"},
		{"https://example.org/render", "image/jpeg", domain.PayloadImage, "image/jpeg", "render"},
	}
	for _, tt := range tests {
		p, err := ParseReference(tt.uri, tt.mimeType)
		if err != nil {
			t.Errorf("ParseReference(%q) error = %v", tt.uri, err)
			continue
		}
		if p.Kind != tt.kind || p.MIMEType != tt.wantMIME || p.Name != tt.name || p.URI != tt.uri {
			t.Errorf("ParseReference(%q) = %+v", tt.uri, p)
		}
		if len(p.Data) != 0 {
			t.Errorf("reference payload carries data")
		}
		if err := Validate(&p); err != nil {
			t.Errorf("Validate(%q) error = %v", tt.uri, err)
		}
	}

	for _, uri := range []string{"plot.png", "http://example.org/plot.png", "gs://bucket/table.csv", "https:///plot.png"} {
		var upe *domain.UnsupportedPayloadError
		if _, err := ParseReference(uri, ""); !errors.As(err, &upe) {
			t.Errorf("ParseReference(%q) error = %v, want UnsupportedPayloadError", uri, err)
		}
	}
	if !IsReference("gs://b/o") || IsReference("./gs://b/o") {
		t.Error("IsReference misclassified a path")
	}
}
