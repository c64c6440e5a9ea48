package formtemplate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"torg12-server/internal/xlsx/xlsxtest"
)

func generate(t *testing.T, s *Structure, text string) *excelize.File {
	t.Helper()
	g, err := NewGenerator(s, nil)
	require.NoError(t, err)
	data, err := g.Generate(context.Background(), text)
	require.NoError(t, err)
	return xlsxtest.Open(t, data)
}

func TestDefaultStructure(t *testing.T) {
	s := Default()

	assert.Equal(t, "Sheet1", s.SheetName)
	assert.Equal(t, UnitsNative, s.Units)
	require.NotNil(t, s.Placeholder)
	assert.Equal(t, "A4", s.Placeholder.Cell)
	assert.Len(t, s.Rows, 6)
	assert.Len(t, s.Columns, 71)
	assert.Equal(t, "BS", s.Columns[len(s.Columns)-1].Column)
	assert.Contains(t, s.Merges, "BM4:BS4")
}

func TestGenerateDefaultLayout(t *testing.T) {
	f := generate(t, Default(), "Поставщик: ООО Ромашка")

	h, err := f.GetRowHeight("Sheet1", 6)
	require.NoError(t, err)
	assert.InDelta(t, 15, h, 0.01)

	w, err := f.GetColWidth("Sheet1", "J")
	require.NoError(t, err)
	assert.InDelta(t, 2.43, w, 0.01)

	merges, err := f.GetMergeCells("Sheet1")
	require.NoError(t, err)
	var ranges []string
	for _, m := range merges {
		ranges = append(ranges, m.GetStartAxis()+":"+m.GetEndAxis())
	}
	assert.ElementsMatch(t, []string{"A4:BE6", "BF4:BL4", "BM4:BS4", "BM5:BS7", "BJ6:BL6"}, ranges)

	v, err := f.GetCellValue("Sheet1", "A4")
	require.NoError(t, err)
	assert.Equal(t, "Поставщик: ООО Ромашка", v)

	v, err = f.GetCellValue("Sheet1", "BM4")
	require.NoError(t, err)
	assert.Equal(t, "0330212", v)
}

func TestGenerateDefaultText(t *testing.T) {
	f := generate(t, Default(), "")

	v, err := f.GetCellValue("Sheet1", "A4")
	require.NoError(t, err)
	assert.Equal(t, "Пример текста пользователя", v)
}

func TestGenerateKeepsTextLiteral(t *testing.T) {
	for _, text := range []string{
		"Скидка ${1+1}",
		"Итог ${text}",
		"Ошибка ${a b}",
	} {
		f := generate(t, Default(), text)

		v, err := f.GetCellValue("Sheet1", "A4")
		require.NoError(t, err)
		assert.Equal(t, text, v)
	}
}

func TestGenerateDoesNotCompileUserText(t *testing.T) {
	g, err := NewGenerator(Default(), nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "${1+1} ${2+2}")
	require.NoError(t, err)

	compiled := 0
	g.eval.cache.Range(func(_, _ interface{}) bool {
		compiled++
		return true
	})
	assert.Zero(t, compiled)
}

func TestGenerateStyles(t *testing.T) {
	f := generate(t, Default(), "x")

	style := xlsxtest.CellStyle(t, f, "BF4")
	require.NotNil(t, style.Font)
	assert.Equal(t, "Arial", style.Font.Family)
	assert.Equal(t, 9.0, style.Font.Size)
	require.NotNil(t, style.Alignment)
	assert.Equal(t, "center", style.Alignment.Horizontal)

	assert.Equal(t, map[string]int{"top": 1, "right": 1, "bottom": 1, "left": 1}, xlsxtest.BorderCodes(t, f, "BM4"))
	assert.Equal(t, map[string]int{"top": 5, "right": 5, "bottom": 5, "left": 5}, xlsxtest.BorderCodes(t, f, "BM5"))

	a4 := xlsxtest.CellStyle(t, f, "A4")
	require.NotNil(t, a4.Alignment)
	assert.True(t, a4.Alignment.WrapText)
}

func TestGenerateExpressions(t *testing.T) {
	s, err := Parse([]byte(`
sheet_name: Накладная
cells:
  - cell: A1
    value: "Лист ${sheet}"
  - cell: A2
    value: "${2 * 21}"
  - cell: A3
    value: "${date}"
  - cell: A4
    value: "${upper(text)}"
`))
	require.NoError(t, err)

	g, err := NewGenerator(s, nil)
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC) }

	data, err := g.Generate(context.Background(), "abc")
	require.NoError(t, err)
	f := xlsxtest.Open(t, data)

	assert.Equal(t, []string{"Накладная"}, f.GetSheetList())

	cases := map[string]string{
		"A1": "Лист Накладная",
		"A2": "42",
		"A3": "09.03.2024",
		"A4": "ABC",
	}
	for addr, want := range cases {
		got, err := f.GetCellValue("Накладная", addr)
		require.NoError(t, err)
		assert.Equal(t, want, got, addr)
	}

	typ, err := f.GetCellType("Накладная", "A2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ)
}

func TestGeneratePixelUnits(t *testing.T) {
	s, err := Parse([]byte(`
sheet_name: Sheet1
units: pixels
rows:
  - {row: 2, height: 20}
columns:
  - {column: c, width: 70}
`))
	require.NoError(t, err)

	f := generate(t, s, "")

	h, err := f.GetRowHeight("Sheet1", 2)
	require.NoError(t, err)
	assert.InDelta(t, 15, h, 0.01)

	w, err := f.GetColWidth("Sheet1", "C")
	require.NoError(t, err)
	assert.InDelta(t, 10, w, 0.01)
}

func TestGenerateCancelled(t *testing.T) {
	g, err := NewGenerator(Default(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Generate(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRejectsInvalidStructures(t *testing.T) {
	cases := map[string]string{
		"missing sheet name": `rows: []`,
		"bad units":          "sheet_name: S\nunits: inches",
		"bad merge":          "sheet_name: S\nmerges: [A1]",
		"bad column":         "sheet_name: S\ncolumns: [{column: A1, width: 3}]",
		"zero height":        "sheet_name: S\nrows: [{row: 1, height: 0}]",
		"bad cell":           "sheet_name: S\ncells: [{cell: 1A}]",
		"bad weight":         "sheet_name: S\ncells: [{cell: A1, style: {border: {top: heavy}}}]",
		"font too large":     "sheet_name: S\ncells: [{cell: A1, style: {font: {size: 500}}}]",
		"not yaml":           "sheet_name: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader("sheet_name: S\ncells: [{cell: b2, value: x}]"))
	require.NoError(t, err)
	assert.Equal(t, UnitsNative, s.Units)

	f := generate(t, s, "")
	v, err := f.GetCellValue("S", "B2")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestSplitExpressions(t *testing.T) {
	assert.Equal(t, []segment{{text: "plain"}}, splitExpressions("plain"))
	assert.Equal(t, []segment{{text: "a ${b"}}, splitExpressions("a ${b"))
	assert.Equal(t, []segment{
		{text: "x="},
		{expr: true, text: "1+1"},
		{text: "!"},
	}, splitExpressions("x=${ 1+1 }!"))
}
