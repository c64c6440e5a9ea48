package xlsx

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"torg12-server/internal/models"
)

// Border style codes as excelize numbers them.
var borderWeights = []models.BorderWeight{
	"none", "thin", "medium", "dashed", "dotted", "thick", "double", "hair",
	"mediumDashed", "dashDot", "mediumDashDot", "dashDotDot", "mediumDashDotDot", "slantDashDot",
}

// WeightCode maps a border keyword to its excelize style code.
func WeightCode(w models.BorderWeight) (int, error) {
	for code, name := range borderWeights {
		if code > 0 && name == w {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown border weight %q", w)
}

// WeightName maps an excelize style code to its keyword.
func WeightName(code int) models.BorderWeight {
	if code <= 0 || code >= len(borderWeights) {
		return ""
	}
	return borderWeights[code]
}

// NormalizeColor turns "#ff0000", "FF0000" and "FFFF0000" into "FF0000".
func NormalizeColor(c string) string {
	c = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(c), "#"))
	if len(c) == 8 {
		c = c[2:]
	}
	return c
}

// Borders extracts edge presence, weight and color from a style.
func Borders(style *excelize.Style) models.BorderSet {
	var set models.BorderSet
	if style == nil {
		return set
	}
	for _, b := range style.Border {
		if b.Style <= 0 {
			continue
		}
		side := models.Side(b.Type)
		switch side {
		case models.SideTop, models.SideRight, models.SideBottom, models.SideLeft:
			set = set.With(side, &models.BorderEdge{Weight: WeightName(b.Style), Color: NormalizeColor(b.Color)})
		}
	}
	return set
}

// SetEdge writes one edge onto a style. A nil edge removes it.
func SetEdge(style *excelize.Style, side models.Side, edge *models.BorderEdge) error {
	kept := style.Border[:0]
	for _, b := range style.Border {
		if b.Type != string(side) {
			kept = append(kept, b)
		}
	}
	style.Border = kept

	if edge == nil {
		return nil
	}
	code, err := WeightCode(edge.Weight)
	if err != nil {
		return err
	}
	color := NormalizeColor(edge.Color)
	if color == "" {
		color = "000000"
	}
	style.Border = append(style.Border, excelize.Border{
		Type:  string(side),
		Color: color,
		Style: code,
	})
	return nil
}

// Font extracts the font of a style.
func Font(style *excelize.Style) *models.FontSpec {
	if style == nil || style.Font == nil {
		return nil
	}
	f := style.Font
	return &models.FontSpec{
		Name:      f.Family,
		Size:      f.Size,
		Bold:      f.Bold,
		Italic:    f.Italic,
		Underline: f.Underline != "" && f.Underline != "none",
		Color:     NormalizeColor(f.Color),
	}
}

// OverlayFont writes the set fields of spec over the style's font. Unset
// fields leave the existing value alone; the boolean flags are always set.
func OverlayFont(style *excelize.Style, spec models.FontSpec) {
	if style.Font == nil {
		style.Font = &excelize.Font{}
	}
	f := style.Font
	if spec.Name != "" {
		f.Family = spec.Name
	}
	if spec.Size > 0 {
		f.Size = spec.Size
	}
	f.Bold = spec.Bold
	f.Italic = spec.Italic
	switch {
	case !spec.Underline:
		f.Underline = ""
	case f.Underline == "" || f.Underline == "none":
		f.Underline = "single"
	}
	if spec.Color != "" {
		f.Color = NormalizeColor(spec.Color)
		f.ColorTheme = nil
		f.ColorIndexed = 0
		f.ColorTint = 0
	}
}

// Fill extracts the fill of a style. A "none" pattern counts as no fill.
func Fill(style *excelize.Style) *models.FillSpec {
	if style == nil || style.Fill.Type == "" {
		return nil
	}
	if style.Fill.Type == "pattern" && style.Fill.Pattern == 0 {
		return nil
	}
	colors := make([]string, 0, len(style.Fill.Color))
	for _, c := range style.Fill.Color {
		colors = append(colors, NormalizeColor(c))
	}
	return &models.FillSpec{
		Type:    style.Fill.Type,
		Pattern: style.Fill.Pattern,
		Colors:  colors,
		Shading: style.Fill.Shading,
	}
}

// ReplaceFill swaps the style's fill for spec.
func ReplaceFill(style *excelize.Style, spec models.FillSpec) {
	colors := make([]string, 0, len(spec.Colors))
	for _, c := range spec.Colors {
		colors = append(colors, NormalizeColor(c))
	}
	style.Fill = excelize.Fill{
		Type:    spec.Type,
		Pattern: spec.Pattern,
		Color:   colors,
		Shading: spec.Shading,
	}
}
