// Package xlsx adapts excelize to the cell model used by the analyzer,
// modifier, validator and template generator. Only the first worksheet of a
// workbook is ever touched.
package xlsx

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
)

// Workbook is an open workbook bound to its first worksheet.
type Workbook struct {
	file  *excelize.File
	sheet string
}

// Open parses an xlsx buffer. Anything that is not a readable workbook with
// at least one worksheet yields *models.UnreadableFileError.
func Open(data []byte) (*Workbook, error) {
	if len(data) == 0 {
		return nil, &models.UnreadableFileError{Reason: "empty buffer"}
	}

	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &models.UnreadableFileError{Reason: "not an xlsx container", Err: err}
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		file.Close()
		return nil, &models.UnreadableFileError{Reason: "workbook has no worksheets"}
	}

	return &Workbook{file: file, sheet: sheets[0]}, nil
}

// New wraps a fresh excelize file, used by the template generator.
func New(file *excelize.File, sheet string) *Workbook {
	return &Workbook{file: file, sheet: sheet}
}

// Sheet is the name of the worksheet in use.
func (w *Workbook) Sheet() string {
	return w.sheet
}

// File exposes the underlying excelize file.
func (w *Workbook) File() *excelize.File {
	return w.file
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// Bytes serializes the workbook.
func (w *Workbook) Bytes() ([]byte, error) {
	buf, err := w.file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Rows returns the raw (unformatted) values of the sheet, row by row.
func (w *Workbook) Rows() ([][]string, error) {
	rows, err := w.file.GetRows(w.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", w.sheet, err)
	}
	return rows, nil
}

// Content reads the typed value, formula and formatted text of a cell whose
// raw text is already known.
func (w *Workbook) Content(addr, raw string) (models.CellContent, error) {
	cellType, err := w.file.GetCellType(w.sheet, addr)
	if err != nil {
		return models.CellContent{}, fmt.Errorf("failed to read type of %s: %w", addr, err)
	}
	formula, err := w.file.GetCellFormula(w.sheet, addr)
	if err != nil {
		return models.CellContent{}, fmt.Errorf("failed to read formula of %s: %w", addr, err)
	}
	formatted, err := w.file.GetCellValue(w.sheet, addr)
	if err != nil {
		return models.CellContent{}, fmt.Errorf("failed to read value of %s: %w", addr, err)
	}

	content := models.CellContent{
		Value:     typedValue(cellType, raw),
		Formula:   formula,
		Formatted: formatted,
	}
	switch {
	case formula != "":
		content.Type = "formula"
	case cellType == excelize.CellTypeError:
		content.Type = "error"
	case cellType == excelize.CellTypeDate:
		content.Type = "date"
	default:
		content.Type = content.Value.Kind.String()
	}
	return content, nil
}

func typedValue(cellType excelize.CellType, raw string) models.CellValue {
	if raw == "" {
		return models.NullValue()
	}
	switch cellType {
	case excelize.CellTypeBool:
		return models.BoolValue(raw == "1" || raw == "TRUE" || raw == "true")
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeError:
		return models.StringValue(raw)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return models.NumberValue(n)
	}
	return models.StringValue(raw)
}

// SetText stores a text value in a cell, keeping the cell's style.
func (w *Workbook) SetText(addr, text string) error {
	if err := w.file.SetCellStr(w.sheet, addr, text); err != nil {
		return fmt.Errorf("failed to set %s: %w", addr, err)
	}
	return nil
}

// StyleID returns the style index of a cell; 0 means no declared style.
func (w *Workbook) StyleID(addr string) (int, error) {
	id, err := w.file.GetCellStyle(w.sheet, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to read style of %s: %w", addr, err)
	}
	return id, nil
}

// Style returns the resolved style of a cell and its index.
func (w *Workbook) Style(addr string) (*excelize.Style, int, error) {
	id, err := w.StyleID(addr)
	if err != nil {
		return nil, 0, err
	}
	style, err := w.file.GetStyle(id)
	if err != nil {
		return nil, id, fmt.Errorf("failed to resolve style %d of %s: %w", id, addr, err)
	}
	return style, id, nil
}

// UpdateStyle reads the cell's style, lets fn edit it, and stores the result
// as a new style on that cell only. Nothing is written if fn fails.
func (w *Workbook) UpdateStyle(addr string, fn func(*excelize.Style) error) error {
	style, _, err := w.Style(addr)
	if err != nil {
		return err
	}
	if err := fn(style); err != nil {
		return err
	}

	id, err := w.file.NewStyle(style)
	if err != nil {
		return fmt.Errorf("failed to create style for %s: %w", addr, err)
	}
	if err := w.file.SetCellStyle(w.sheet, addr, addr, id); err != nil {
		return fmt.Errorf("failed to apply style to %s: %w", addr, err)
	}
	return nil
}

// Merges lists the declared merged regions in sheet order.
func (w *Workbook) Merges() ([]models.MergedRegion, error) {
	cells, err := w.file.GetMergeCells(w.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged cells: %w", err)
	}

	regions := make([]models.MergedRegion, 0, len(cells))
	for _, mc := range cells {
		start, err := cellref.Parse(mc.GetStartAxis())
		if err != nil {
			return nil, fmt.Errorf("merged region %s: %w", mc.GetStartAxis(), err)
		}
		end, err := cellref.Parse(mc.GetEndAxis())
		if err != nil {
			return nil, fmt.Errorf("merged region %s: %w", mc.GetEndAxis(), err)
		}
		area := cellref.NewArea(start, end)
		regions = append(regions, models.MergedRegion{
			Start:    area.Start.String(),
			End:      area.End.String(),
			StartRow: area.Start.Row,
			StartCol: area.Start.Col,
			EndRow:   area.End.Row,
			EndCol:   area.End.Col,
		})
	}
	return regions, nil
}

// IsMerged reports whether exactly this rectangle is declared as merged.
func (w *Workbook) IsMerged(area cellref.Area) (bool, error) {
	regions, err := w.Merges()
	if err != nil {
		return false, err
	}
	for _, r := range regions {
		if r.Range() == area.String() {
			return true, nil
		}
	}
	return false, nil
}

// Overlapping lists declared merges that share a cell with area.
func (w *Workbook) Overlapping(area cellref.Area) ([]models.MergedRegion, error) {
	regions, err := w.Merges()
	if err != nil {
		return nil, err
	}
	var out []models.MergedRegion
	for _, r := range regions {
		other := cellref.Area{
			Start: cellref.Address{Row: r.StartRow, Col: r.StartCol},
			End:   cellref.Address{Row: r.EndRow, Col: r.EndCol},
		}
		if area.Overlaps(other) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Unmerge removes every merge overlapping area. Cell values stay where they
// are.
func (w *Workbook) Unmerge(area cellref.Area) error {
	if err := w.file.UnmergeCell(w.sheet, area.Start.String(), area.End.String()); err != nil {
		return fmt.Errorf("failed to unmerge %s: %w", area, err)
	}
	return nil
}

// Merge declares a merged rectangle.
func (w *Workbook) Merge(area cellref.Area) error {
	if err := w.file.MergeCell(w.sheet, area.Start.String(), area.End.String()); err != nil {
		return fmt.Errorf("failed to merge %s: %w", area, err)
	}
	return nil
}
