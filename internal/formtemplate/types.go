package formtemplate

import (
	"torg12-server/internal/models"
)

// Structure declares a blank form: sheet layout, merged regions and styled
// cells. Heights and widths are in the units named by Units.
type Structure struct {
	SheetName   string          `yaml:"sheet_name" json:"sheet_name" validate:"required,max=31"`
	Units       Units           `yaml:"units,omitempty" json:"units,omitempty" validate:"omitempty,oneof=native pixels"`
	Placeholder *Placeholder    `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Rows        []RowSetting    `yaml:"rows" json:"rows" validate:"dive"`
	Columns     []ColumnSetting `yaml:"columns" json:"columns" validate:"dive"`
	Merges      []string        `yaml:"merges" json:"merges" validate:"dive,cellrange"`
	Cells       []CellSetting   `yaml:"cells" json:"cells" validate:"dive"`
}

// Placeholder marks the cell whose Text is replaced by the user's free text,
// or by Default when none is given.
type Placeholder struct {
	Cell    string `yaml:"cell" json:"cell" validate:"required,celladdr"`
	Text    string `yaml:"text" json:"text" validate:"required"`
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

type RowSetting struct {
	Row    int     `yaml:"row" json:"row" validate:"min=1"`
	Height float64 `yaml:"height" json:"height" validate:"gt=0"`
}

type ColumnSetting struct {
	Column string  `yaml:"column" json:"column" validate:"required,column"`
	Width  float64 `yaml:"width" json:"width" validate:"gt=0"`
}

// CellSetting is one styled cell. Value may contain ${...} expressions.
type CellSetting struct {
	Cell  string     `yaml:"cell" json:"cell" validate:"required,celladdr"`
	Value string     `yaml:"value,omitempty" json:"value,omitempty"`
	Style *CellStyle `yaml:"style,omitempty" json:"style,omitempty"`
}

type CellStyle struct {
	Font      *FontStyle      `yaml:"font,omitempty" json:"font,omitempty"`
	Alignment *AlignmentStyle `yaml:"alignment,omitempty" json:"alignment,omitempty"`
	Border    *BorderStyle    `yaml:"border,omitempty" json:"border,omitempty"`
}

type FontStyle struct {
	Name   string  `yaml:"name,omitempty" json:"name,omitempty"`
	Size   float64 `yaml:"size,omitempty" json:"size,omitempty" validate:"omitempty,gt=0,lte=409"`
	Bold   bool    `yaml:"bold,omitempty" json:"bold,omitempty"`
	Italic bool    `yaml:"italic,omitempty" json:"italic,omitempty"`
	Color  string  `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor|len=6|len=8"`
}

type AlignmentStyle struct {
	Horizontal string `yaml:"horizontal,omitempty" json:"horizontal,omitempty" validate:"omitempty,oneof=left center right fill justify centerContinuous distributed general"`
	Vertical   string `yaml:"vertical,omitempty" json:"vertical,omitempty" validate:"omitempty,oneof=top center middle bottom justify distributed"`
	WrapText   bool   `yaml:"wrap_text,omitempty" json:"wrap_text,omitempty"`
}

// BorderStyle gives each edge a weight keyword; an empty edge is left off.
type BorderStyle struct {
	Top    models.BorderWeight `yaml:"top,omitempty" json:"top,omitempty"`
	Right  models.BorderWeight `yaml:"right,omitempty" json:"right,omitempty"`
	Bottom models.BorderWeight `yaml:"bottom,omitempty" json:"bottom,omitempty"`
	Left   models.BorderWeight `yaml:"left,omitempty" json:"left,omitempty"`
	Color  string              `yaml:"color,omitempty" json:"color,omitempty"`
}

// Units names the unit of declared heights and widths.
type Units string

const (
	// UnitsNative means points for row heights and character widths for
	// columns, which is what xlsx stores.
	UnitsNative Units = "native"
	// UnitsPixels means screen pixels at 96 DPI.
	UnitsPixels Units = "pixels"
)

// unitScale converts declared sizes into native units. Pixels become points
// at 72/96 and character widths at 7 pixels per character (Calibri 11, the
// default font).
var unitScale = map[Units]struct{ height, width float64 }{
	UnitsNative: {height: 1, width: 1},
	UnitsPixels: {height: 0.75, width: 1.0 / 7},
}

func (u Units) scale() (height, width float64) {
	s, ok := unitScale[u]
	if !ok {
		s = unitScale[UnitsNative]
	}
	return s.height, s.width
}
