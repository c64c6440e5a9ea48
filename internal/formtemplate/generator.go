// Package formtemplate builds blank TORG-12 workbooks from a declarative
// structure: row heights, column widths, merged regions and styled cells.
package formtemplate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
	"torg12-server/internal/xlsx"
)

const DefaultFilename = "template-TORG-12.xlsx"

type Generator struct {
	structure *Structure
	eval      *evaluator
	logger    *zap.Logger
	now       func() time.Time
}

// NewGenerator validates s and returns a generator for it.
func NewGenerator(s *Structure, logger *zap.Logger) (*Generator, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{structure: s, eval: &evaluator{}, logger: logger, now: time.Now}, nil
}

// Structure returns the structure the generator renders.
func (g *Generator) Structure() *Structure {
	return g.structure
}

// Generate renders the structure with text substituted into the placeholder
// cell and returns the serialized workbook.
//
// Cell values may reference ${text}, ${sheet} and ${date} (DD.MM.YYYY).
func (g *Generator) Generate(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := g.structure
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if s.SheetName != sheet {
		if err := f.SetSheetName(sheet, s.SheetName); err != nil {
			return nil, fmt.Errorf("failed to name sheet: %w", err)
		}
		sheet = s.SheetName
	}

	heightScale, widthScale := s.Units.scale()
	for _, r := range s.Rows {
		if err := f.SetRowHeight(sheet, r.Row, r.Height*heightScale); err != nil {
			return nil, fmt.Errorf("row %d height: %w", r.Row, err)
		}
	}
	for _, c := range s.Columns {
		col := strings.ToUpper(c.Column)
		if err := f.SetColWidth(sheet, col, col, c.Width*widthScale); err != nil {
			return nil, fmt.Errorf("column %s width: %w", col, err)
		}
	}

	wb := xlsx.New(f, sheet)
	for _, m := range s.Merges {
		area, err := cellref.ParseArea(m)
		if err != nil {
			return nil, err
		}
		if err := wb.Merge(area); err != nil {
			return nil, err
		}
	}

	env := map[string]interface{}{
		"text":  g.commentText(text),
		"sheet": sheet,
		"date":  g.now().Format("02.01.2006"),
	}
	for _, c := range s.Cells {
		if err := g.renderCell(f, sheet, c, text, env); err != nil {
			return nil, fmt.Errorf("cell %s: %w", c.Cell, err)
		}
	}

	data, err := wb.Bytes()
	if err != nil {
		return nil, err
	}

	g.logger.Info("Generated template",
		zap.String("sheet", sheet),
		zap.Int("cells", len(s.Cells)),
		zap.Int("merges", len(s.Merges)),
	)
	return data, nil
}

func (g *Generator) commentText(text string) string {
	if text == "" && g.structure.Placeholder != nil {
		return g.structure.Placeholder.Default
	}
	return text
}

func (g *Generator) renderCell(f *excelize.File, sheet string, c CellSetting, text string, env map[string]interface{}) error {
	addr, err := cellref.Canonical(c.Cell)
	if err != nil {
		return err
	}

	if c.Value != "" {
		out, err := g.eval.Render(c.Value, env)
		if err != nil {
			return err
		}
		// The user's text goes in literally, after the structure's own
		// expressions have been evaluated.
		if p := g.structure.Placeholder; p != nil && strings.EqualFold(p.Cell, addr) {
			if rendered, ok := out.(string); ok {
				out = strings.ReplaceAll(rendered, p.Text, g.commentText(text))
			}
		}
		switch v := out.(type) {
		case string:
			err = f.SetCellStr(sheet, addr, v)
		case nil:
			err = f.SetCellStr(sheet, addr, "")
		default:
			err = f.SetCellValue(sheet, addr, v)
		}
		if err != nil {
			return err
		}
	}

	if c.Style == nil {
		return nil
	}
	style, err := excelStyle(c.Style)
	if err != nil {
		return err
	}
	id, err := f.NewStyle(style)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, addr, addr, id)
}

func excelStyle(cs *CellStyle) (*excelize.Style, error) {
	style := &excelize.Style{}

	if fs := cs.Font; fs != nil {
		style.Font = &excelize.Font{
			Family: fs.Name,
			Size:   fs.Size,
			Bold:   fs.Bold,
			Italic: fs.Italic,
			Color:  xlsx.NormalizeColor(fs.Color),
		}
	}

	if a := cs.Alignment; a != nil {
		vertical := a.Vertical
		if vertical == "middle" {
			vertical = "center"
		}
		style.Alignment = &excelize.Alignment{
			Horizontal: a.Horizontal,
			Vertical:   vertical,
			WrapText:   a.WrapText,
		}
	}

	if cs.Border != nil {
		edges, err := borderEdges(cs.Border)
		if err != nil {
			return nil, err
		}
		for _, side := range models.Sides {
			if err := xlsx.SetEdge(style, side, edges.Edge(side)); err != nil {
				return nil, err
			}
		}
	}

	return style, nil
}

func borderEdges(b *BorderStyle) (models.BorderSet, error) {
	var set models.BorderSet
	for side, w := range map[models.Side]models.BorderWeight{
		models.SideTop:    b.Top,
		models.SideRight:  b.Right,
		models.SideBottom: b.Bottom,
		models.SideLeft:   b.Left,
	} {
		if w == "" {
			continue
		}
		if _, err := xlsx.WeightCode(w); err != nil {
			return set, err
		}
		set = set.With(side, &models.BorderEdge{Weight: w, Color: b.Color})
	}
	return set, nil
}
