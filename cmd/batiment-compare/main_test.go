package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Epistemic-Technology/batiment-compare/internal/pdf/pdftest"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		arg  string
		want models.SourceInfo
	}{
		{"plans/A-101.pdf", models.SourceInfo{Path: "plans/A-101.pdf"}},
		{"https://example.com/dce.pdf", models.SourceInfo{URL: "https://example.com/dce.pdf"}},
		{"http://example.com/exe.pdf", models.SourceInfo{URL: "http://example.com/exe.pdf"}},
		{"zotero:ABCD1234", models.SourceInfo{ZoteroID: "ABCD1234"}},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got := parseSource(tt.arg)
			if got.Path != tt.want.Path || got.URL != tt.want.URL || got.ZoteroID != tt.want.ZoteroID {
				t.Errorf("parseSource(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		final    string
		annotate bool
		want     string
		wantErr  bool
	}{
		{"explicit out", "x.pdf", "final.pdf", false, "x.pdf", false},
		{"no annotation", "", "final.pdf", false, "", false},
		{"beside final", "", "sets/EXE-B.pdf", true, "sets/EXE-B-annotated.pdf", false},
		{"remote final", "", "https://example.com/f.pdf", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputPath(tt.out, tt.final, tt.annotate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("outputPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeDrawing(t *testing.T, dir, name, text string) string {
	t.Helper()
	page := pdftest.Letter()
	page.Texts = []pdftest.Text{{X: 72, Baseline: 130, Size: 12, Value: text}}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pdftest.Build(page), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestDiffCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	ref := writeDrawing(t, dir, "ref.pdf", "Beam A1 300mm")
	final := writeDrawing(t, dir, "final.pdf", "Beam A1 350mm")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	args := []string{"batiment-compare", "--no-store", "--config-dir", dir, "diff", "-r", ref, "-f", final, "--annotate"}
	if err := app.Run(args); err != nil {
		t.Fatalf("diff command failed: %v", err)
	}

	var report models.TextDiffReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out.String())
	}
	if len(report.Pages) != 1 || report.Pages[0].Operations != 2 {
		t.Errorf("unexpected report: %+v", report.Pages)
	}

	annotated, err := os.ReadFile(filepath.Join(dir, "final-annotated.pdf"))
	if err != nil {
		t.Fatalf("annotated PDF not written: %v", err)
	}
	if !bytes.HasPrefix(annotated, []byte("%PDF")) {
		t.Error("annotated file is not a PDF")
	}

	// The deleted "300mm" is highlighted on a copy of the reference.
	reference, err := os.ReadFile(filepath.Join(dir, "ref-annotated.pdf"))
	if err != nil {
		t.Fatalf("annotated reference PDF not written: %v", err)
	}
	if !bytes.HasPrefix(reference, []byte("%PDF")) {
		t.Error("annotated reference file is not a PDF")
	}
}

func TestVerifyCommand_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BATIMENT_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	ref := writeDrawing(t, dir, "ref.pdf", "a")
	final := writeDrawing(t, dir, "final.pdf", "a")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"batiment-compare", "--no-store", "--config-dir", dir, "verify", "-r", ref, "-f", final})
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("Expected api_key configuration error, got %v", err)
	}
}
