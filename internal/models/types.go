package models

import (
	"time"
)

const (
	// XLSXContentType is the MIME type of every workbook the service returns.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	TokenVersion = 1
)

// Side names one edge of a cell border.
type Side string

const (
	SideTop    Side = "top"
	SideRight  Side = "right"
	SideBottom Side = "bottom"
	SideLeft   Side = "left"
)

// Sides lists the four edges in the order they are compared and reported.
var Sides = []Side{SideTop, SideRight, SideBottom, SideLeft}

// BorderWeight is an xlsx border style keyword such as "thin" or "thick".
type BorderWeight string

const (
	BorderThin   BorderWeight = "thin"
	BorderMedium BorderWeight = "medium"
	BorderThick  BorderWeight = "thick"
	BorderDouble BorderWeight = "double"
)

// BorderEdge is a present border edge.
type BorderEdge struct {
	Weight BorderWeight `json:"style" yaml:"style"`
	Color  string       `json:"color,omitempty" yaml:"color,omitempty"`
}

// BorderSet holds the four edges of a cell. A nil edge is absent.
type BorderSet struct {
	Top    *BorderEdge `json:"top,omitempty" yaml:"top,omitempty"`
	Right  *BorderEdge `json:"right,omitempty" yaml:"right,omitempty"`
	Bottom *BorderEdge `json:"bottom,omitempty" yaml:"bottom,omitempty"`
	Left   *BorderEdge `json:"left,omitempty" yaml:"left,omitempty"`
}

// Edge returns the edge on the given side, or nil.
func (b BorderSet) Edge(side Side) *BorderEdge {
	switch side {
	case SideTop:
		return b.Top
	case SideRight:
		return b.Right
	case SideBottom:
		return b.Bottom
	case SideLeft:
		return b.Left
	}
	return nil
}

// Has reports whether the edge on side is present.
func (b BorderSet) Has(side Side) bool {
	return b.Edge(side) != nil
}

// With returns a copy of b with the edge on side replaced. A nil edge clears it.
func (b BorderSet) With(side Side, edge *BorderEdge) BorderSet {
	if edge != nil {
		e := *edge
		edge = &e
	}
	switch side {
	case SideTop:
		b.Top = edge
	case SideRight:
		b.Right = edge
	case SideBottom:
		b.Bottom = edge
	case SideLeft:
		b.Left = edge
	}
	return b
}

// Empty reports whether no edge is present.
func (b BorderSet) Empty() bool {
	return b.Top == nil && b.Right == nil && b.Bottom == nil && b.Left == nil
}

// FontSpec is a font description. Empty Name, zero Size and empty Color mean
// the field is unset.
type FontSpec struct {
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Size      float64 `json:"size,omitempty" yaml:"size,omitempty"`
	Bold      bool    `json:"bold" yaml:"bold"`
	Italic    bool    `json:"italic" yaml:"italic"`
	Underline bool    `json:"underline" yaml:"underline"`
	Color     string  `json:"color,omitempty" yaml:"color,omitempty"`
}

// FillSpec describes a cell fill. Fills are only ever compared as a whole.
type FillSpec struct {
	Type    string   `json:"type"`
	Pattern int      `json:"pattern"`
	Colors  []string `json:"colors,omitempty"`
	Shading int      `json:"shading,omitempty"`
}

// CellStyleRecord is the style snapshot of one populated cell.
type CellStyleRecord struct {
	Address string    `json:"address"`
	Value   CellValue `json:"value"`
	Borders BorderSet `json:"borders"`
	Font    *FontSpec `json:"font,omitempty"`
	Fill    *FillSpec `json:"fill,omitempty"`
}

// CellContent is what the form editor needs to show a cell.
type CellContent struct {
	Value     CellValue `json:"value"`
	Type      string    `json:"type"`
	Formula   string    `json:"formula,omitempty"`
	Formatted string    `json:"formatted"`
}

// MergedRegion is a declared merge rectangle.
type MergedRegion struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	StartRow int    `json:"start_row"`
	StartCol int    `json:"start_col"`
	EndRow   int    `json:"end_row"`
	EndCol   int    `json:"end_col"`
}

// Range returns the "START:END" form used as the region's identity.
func (m MergedRegion) Range() string {
	return m.Start + ":" + m.End
}

// Analysis is the result of scanning the first worksheet of a workbook.
type Analysis struct {
	Sheet    string                 `json:"sheet"`
	Records  []CellStyleRecord      `json:"records"`
	Contents map[string]CellContent `json:"contents"`
	Merges   []MergedRegion         `json:"merges"`
}

// ValidationResult is the per-cell outcome of a style validation.
type ValidationResult struct {
	Address string   `json:"address"`
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues"`
}

// ValidationSummary aggregates a validation run. IsValid holds exactly when
// InvalidCells is zero.
type ValidationSummary struct {
	IsValid      bool               `json:"is_valid"`
	TotalCells   int                `json:"total_cells"`
	ValidCells   int                `json:"valid_cells"`
	InvalidCells int                `json:"invalid_cells"`
	Results      []ValidationResult `json:"results"`
}

// ModifyResult is a produced workbook plus the non-fatal problems met while
// producing it.
type ModifyResult struct {
	Data        []byte                    `json:"-"`
	Filename    string                    `json:"filename"`
	ContentType string                    `json:"content_type"`
	Warnings    []StyleApplicationWarning `json:"warnings"`
}

// FileMetadata describes an uploaded workbook.
type FileMetadata struct {
	Filename   string    `json:"filename"`
	Checksum   string    `json:"checksum"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// TokenData is the payload of a session token.
type TokenData struct {
	SessionID string `json:"session_id"`
	Checksum  string `json:"checksum"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"ts"`
}
