// Package xlsxtest builds in-memory workbooks for tests.
package xlsxtest

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Builder accumulates cells, styles and merges on the first sheet of a new
// workbook. Any excelize failure fails the test immediately.
type Builder struct {
	t     testing.TB
	file  *excelize.File
	sheet string
}

// New starts a workbook whose only sheet is "Sheet1".
func New(t testing.TB) *Builder {
	t.Helper()
	return &Builder{t: t, file: excelize.NewFile(), sheet: "Sheet1"}
}

// Rename renames the first sheet.
func (b *Builder) Rename(name string) *Builder {
	b.t.Helper()
	if err := b.file.SetSheetName(b.sheet, name); err != nil {
		b.t.Fatalf("rename sheet: %v", err)
	}
	b.sheet = name
	return b
}

// AddSheet appends another sheet after the first one.
func (b *Builder) AddSheet(name string, cells map[string]interface{}) *Builder {
	b.t.Helper()
	if _, err := b.file.NewSheet(name); err != nil {
		b.t.Fatalf("new sheet: %v", err)
	}
	for addr, v := range cells {
		if err := b.file.SetCellValue(name, addr, v); err != nil {
			b.t.Fatalf("set %s!%s: %v", name, addr, err)
		}
	}
	return b
}

// Value sets a cell value.
func (b *Builder) Value(addr string, v interface{}) *Builder {
	b.t.Helper()
	if err := b.file.SetCellValue(b.sheet, addr, v); err != nil {
		b.t.Fatalf("set %s: %v", addr, err)
	}
	return b
}

// Formula sets a cell formula.
func (b *Builder) Formula(addr, formula string) *Builder {
	b.t.Helper()
	if err := b.file.SetCellFormula(b.sheet, addr, formula); err != nil {
		b.t.Fatalf("formula %s: %v", addr, err)
	}
	return b
}

// Style registers style and applies it to addr.
func (b *Builder) Style(addr string, style *excelize.Style) *Builder {
	b.t.Helper()
	id, err := b.file.NewStyle(style)
	if err != nil {
		b.t.Fatalf("new style for %s: %v", addr, err)
	}
	if err := b.file.SetCellStyle(b.sheet, addr, addr, id); err != nil {
		b.t.Fatalf("style %s: %v", addr, err)
	}
	return b
}

// Merge merges a rectangle given by its corners.
func (b *Builder) Merge(start, end string) *Builder {
	b.t.Helper()
	if err := b.file.MergeCell(b.sheet, start, end); err != nil {
		b.t.Fatalf("merge %s:%s: %v", start, end, err)
	}
	return b
}

// Bytes serializes the workbook.
func (b *Builder) Bytes() []byte {
	b.t.Helper()
	buf, err := b.file.WriteToBuffer()
	if err != nil {
		b.t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// Open parses a workbook produced by the code under test.
func Open(t testing.TB, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// CellStyle resolves the style of a cell in the first sheet of f.
func CellStyle(t testing.TB, f *excelize.File, addr string) *excelize.Style {
	t.Helper()
	sheet := f.GetSheetList()[0]
	id, err := f.GetCellStyle(sheet, addr)
	if err != nil {
		t.Fatalf("style id of %s: %v", addr, err)
	}
	style, err := f.GetStyle(id)
	if err != nil {
		t.Fatalf("style %d of %s: %v", id, addr, err)
	}
	return style
}

// BorderCodes maps each present side of addr to its excelize style code.
func BorderCodes(t testing.TB, f *excelize.File, addr string) map[string]int {
	t.Helper()
	codes := make(map[string]int)
	for _, b := range CellStyle(t, f, addr).Border {
		if b.Style > 0 {
			codes[b.Type] = b.Style
		}
	}
	return codes
}

// Thin, Medium and Thick are border helpers for fixtures.
func Thin(sides ...string) []excelize.Border { return borders(1, sides) }
func Medium(sides ...string) []excelize.Border { return borders(2, sides) }
func Thick(sides ...string) []excelize.Border { return borders(5, sides) }

func borders(code int, sides []string) []excelize.Border {
	out := make([]excelize.Border, 0, len(sides))
	for _, s := range sides {
		out = append(out, excelize.Border{Type: s, Color: "000000", Style: code})
	}
	return out
}
