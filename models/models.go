package models

import (
	"math"
	"time"
)

type PdfData []byte
type PdfPageData []byte

// Rect is a box in PDF points with a top-left page origin (y grows downward).
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}.Normalize()
}

// Normalize orders the corners so that X0 <= X1 and Y0 <= Y1.
func (r Rect) Normalize() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

func (r Rect) IsEmpty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Union returns the smallest rect containing both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

func (r Rect) Intersects(o Rect) bool {
	return !(r.X1 < o.X0 || r.X0 > o.X1 || r.Y1 < o.Y0 || r.Y0 > o.Y1)
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X0 >= r.X0 && o.X1 <= r.X1 && o.Y0 >= r.Y0 && o.Y1 <= r.Y1
}

// Expand grows the rect by margin on every side.
func (r Rect) Expand(margin float64) Rect {
	return Rect{X0: r.X0 - margin, Y0: r.Y0 - margin, X1: r.X1 + margin, Y1: r.Y1 + margin}
}

// Clip restricts the rect to the page area.
func (r Rect) Clip(width, height float64) Rect {
	return Rect{
		X0: math.Max(0, math.Min(r.X0, width)),
		Y0: math.Max(0, math.Min(r.Y0, height)),
		X1: math.Max(0, math.Min(r.X1, width)),
		Y1: math.Max(0, math.Min(r.Y1, height)),
	}
}

// PageGeometry is the geometry snapshot of one page. Width, Height and every
// box use the unrotated MediaBox frame; Rotate is the page's /Rotate value.
type PageGeometry struct {
	PageIndex  int     `json:"page_index"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Rotate     int     `json:"rotate,omitempty"`
	MainImage  *Rect   `json:"main_image,omitempty"`
	ImageCount int     `json:"image_count"`
	// Images holds every painted image, largest first.
	Images []Rect `json:"images,omitempty"`
}

// ImagePair matches one image of a reference page with one of the final
// page. A nil side means the image has no counterpart.
type ImagePair struct {
	Reference   *Rect   `json:"reference,omitempty"`
	Final       *Rect   `json:"final,omitempty"`
	WidthScale  float64 `json:"width_scale,omitempty"`
	HeightScale float64 `json:"height_scale,omitempty"`
	Changed     bool    `json:"changed"`
}

// Annotation is a popup or text comment read from the reference PDF.
type Annotation struct {
	ID            string `json:"id"`
	PageIndex     int    `json:"page_index"`
	Rect          Rect   `json:"rect"`
	Author        string `json:"author,omitempty"`
	Text          string `json:"text"`
	Subtype       string `json:"subtype"`
	CreationOrder int    `json:"creation_order"`
	Modified      string `json:"modified,omitempty"`
}

type VerdictLabel string

const (
	LabelImplemented    VerdictLabel = "implemented"
	LabelNotImplemented VerdictLabel = "not-implemented"
	LabelPartial        VerdictLabel = "partial"
	LabelUnknown        VerdictLabel = "unknown"
)

// Verdict is the judged outcome for one annotation.
type Verdict struct {
	Annotation Annotation   `json:"annotation"`
	Label      VerdictLabel `json:"label"`
	Rationale  string       `json:"rationale,omitempty"`
	Evidence   string       `json:"evidence,omitempty"`
	Confidence float64      `json:"confidence"`
	Judged     bool         `json:"judged"`
}

// WordToken is one word on a page with its position.
type WordToken struct {
	PageIndex int     `json:"page_index"`
	Text      string  `json:"text"`
	Rect      Rect    `json:"rect"`
	Index     int     `json:"index"`
	Line      int     `json:"line"`
	FontSize  float64 `json:"font_size,omitempty"`
}

type DiffKind string

const (
	DiffInsert DiffKind = "insert"
	DiffDelete DiffKind = "delete"
)

// DiffOperation covers tokens [Start, End) of the reference sequence for a
// delete, or of the final sequence for an insert.
type DiffOperation struct {
	Kind      DiffKind `json:"kind"`
	PageIndex int      `json:"page_index"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	Text      string   `json:"text"`
	Region    Rect     `json:"region"`
	Moved     bool     `json:"moved,omitempty"`
	// Tokens holds the covered token texts.
	Tokens []string `json:"-"`
}

func (op DiffOperation) Len() int { return op.End - op.Start }

// MergedAnnotation groups nearby operations of the same kind.
type MergedAnnotation struct {
	Kind           DiffKind `json:"kind"`
	PageIndex      int      `json:"page_index"`
	Region         Rect     `json:"region"`
	OperationCount int      `json:"operation_count"`
	TokenCount     int      `json:"token_count"`
	MovedCount     int      `json:"moved_count,omitempty"`
	Text           string   `json:"text"`
	FirstToken     int      `json:"first_token"`
}

type DiscrepancyClass string

const (
	ClassMatch             DiscrepancyClass = "match"
	ClassPageSizeMismatch  DiscrepancyClass = "page-size-mismatch"
	ClassImageSizeMismatch DiscrepancyClass = "image-size-mismatch"
	ClassMissingImage      DiscrepancyClass = "missing-image"
	ClassUnknown           DiscrepancyClass = "unknown"
)

// Discrepancy is the Mode 1 result for one page pair.
type Discrepancy struct {
	PageIndex   int              `json:"page_index"`
	Class       DiscrepancyClass `json:"class"`
	Reference   *PageGeometry    `json:"reference,omitempty"`
	Final       *PageGeometry    `json:"final,omitempty"`
	WidthDelta  float64          `json:"width_delta"`
	HeightDelta float64          `json:"height_delta"`
	Region      *Rect            `json:"region,omitempty"`
	Message     string           `json:"message,omitempty"`
	Images      []ImagePair      `json:"images,omitempty"`
}

type Mode string

const (
	ModeGeometry Mode = "geometry"
	ModeVerify   Mode = "verify"
	ModeTextDiff Mode = "textdiff"
)

// ReportHeader is shared by every mode's report.
type ReportHeader struct {
	RunID              string    `json:"run_id,omitempty"`
	Mode               Mode      `json:"mode"`
	ReferenceID        string    `json:"reference_id"`
	FinalID            string    `json:"final_id"`
	ReferencePageCount int       `json:"reference_page_count"`
	FinalPageCount     int       `json:"final_page_count"`
	Warnings           []string  `json:"warnings,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type GeometryReport struct {
	ReportHeader
	Tolerance     float64       `json:"tolerance"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// CostEstimate approximates the judge spend for a verification run.
type CostEstimate struct {
	Calls           int `json:"calls"`
	EstimatedTokens int `json:"estimated_tokens"`
}

type VerificationReport struct {
	ReportHeader
	Model       string       `json:"model,omitempty"`
	DryRun      bool         `json:"dry_run"`
	Invocations int          `json:"invocations"`
	Estimate    CostEstimate `json:"estimate"`
	Verdicts    []Verdict    `json:"verdicts"`
}

// PageDiff is the Mode 3 result for one page pair.
type PageDiff struct {
	PageIndex       int                `json:"page_index"`
	ReferenceTokens int                `json:"reference_tokens"`
	FinalTokens     int                `json:"final_tokens"`
	LineLevel       bool               `json:"line_level,omitempty"`
	Operations      int                `json:"operations"`
	Annotations     []MergedAnnotation `json:"annotations"`
}

type TextDiffReport struct {
	ReportHeader
	Pages []PageDiff `json:"pages"`
}

// RunInfo describes a stored comparison run. HasReferencePDF is set when
// the reference was annotated too, as Mode 3 marks missing text on it.
type RunInfo struct {
	RunID           string    `json:"run_id"`
	Mode            Mode      `json:"mode"`
	ReferenceID     string    `json:"reference_id"`
	FinalID         string    `json:"final_id"`
	Summary         string    `json:"summary,omitempty"`
	HasPDF          bool      `json:"has_pdf"`
	HasReferencePDF bool      `json:"has_reference_pdf,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SourceInfo contains information about where a PDF came from
type SourceInfo struct {
	ZoteroID string `json:"zotero_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	RawData  []byte `json:"raw_data,omitempty"`
}

// DocumentData is a loaded document with its detected type.
type DocumentData struct {
	ID   string
	Data []byte
	Type string
}
