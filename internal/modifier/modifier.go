// Package modifier produces a copy of an uploaded workbook with the comment
// cell filled in, the special-cell policy enforced and every other recorded
// style written back.
package modifier

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
	"torg12-server/internal/policy"
	"torg12-server/internal/xlsx"
)

const (
	// DefaultBorderWeight is written for every recorded edge of a cell outside
	// the policy table. Records only carry edge presence into this step, so a
	// medium or double edge in the upload comes back thin.
	DefaultBorderWeight = models.BorderThin

	DefaultFilename = "modified-document.xlsx"

	borderColor = "000000"
)

// Request carries the inputs of one modification.
type Request struct {
	Original []byte
	Records  []models.CellStyleRecord
	Filename string
	Comment  string
}

type Modifier struct {
	policy       *policy.Policy
	logger       *zap.Logger
	borderWeight models.BorderWeight
}

type Option func(*Modifier)

// WithBorderWeight overrides DefaultBorderWeight.
func WithBorderWeight(w models.BorderWeight) Option {
	return func(m *Modifier) {
		if w != "" {
			m.borderWeight = w
		}
	}
}

func New(p *policy.Policy, logger *zap.Logger, opts ...Option) *Modifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Modifier{policy: p, logger: logger, borderWeight: DefaultBorderWeight}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Modify re-parses req.Original and applies, in order: the comment text, the
// policy rules, then every remaining record. A record that cannot be written
// back is skipped and reported as a warning; the workbook is still produced.
//
// The context is only checked before parsing starts.
func (m *Modifier) Modify(ctx context.Context, req Request) (*models.ModifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := xlsx.WeightCode(m.borderWeight); err != nil {
		return nil, fmt.Errorf("invalid reapply border weight: %w", err)
	}

	wb, err := xlsx.Open(req.Original)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	if err := wb.SetText(m.policy.CommentCell(), req.Comment); err != nil {
		return nil, fmt.Errorf("failed to write comment cell: %w", err)
	}

	for _, rule := range m.policy.Rules() {
		if err := m.applyRule(wb, rule); err != nil {
			return nil, fmt.Errorf("failed to apply policy for %s: %w", rule.Address, err)
		}
	}

	var warnings []models.StyleApplicationWarning
	for _, rec := range req.Records {
		if w := m.reapply(wb, rec); w != nil {
			m.logger.Warn("Skipped style for cell",
				zap.String("address", w.Address),
				zap.String("step", w.Step),
				zap.Error(w.Err),
			)
			warnings = append(warnings, *w)
		}
	}

	data, err := wb.Bytes()
	if err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = DefaultFilename
	}

	m.logger.Info("Modified workbook",
		zap.String("filename", filename),
		zap.Int("records", len(req.Records)),
		zap.Int("warnings", len(warnings)),
	)

	return &models.ModifyResult{
		Data:        data,
		Filename:    filename,
		ContentType: models.XLSXContentType,
		Warnings:    warnings,
	}, nil
}

func (m *Modifier) applyRule(wb *xlsx.Workbook, rule policy.Rule) error {
	switch {
	case rule.Font != nil:
		frag := *rule.Font
		return wb.UpdateStyle(rule.Address, func(s *excelize.Style) error {
			xlsx.OverlayFont(s, *frag.Apply(xlsx.Font(s)))
			return nil
		})

	case rule.Border != nil && rule.Border.Merge != "":
		return m.applyOutline(wb, rule)

	case rule.Border != nil || rule.RequireBottomBorder:
		edges := rule.RequiredBorders()
		return wb.UpdateStyle(rule.Address, func(s *excelize.Style) error {
			for _, side := range models.Sides {
				if edge := edges.Edge(side); edge != nil {
					if err := xlsx.SetEdge(s, side, edge); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return nil
}

// applyOutline merges the rule's rectangle if needed, replacing any merge
// that overlaps it, and draws its edges as one outline: top and bottom on
// every cell, left only in the first column, right only in the last.
func (m *Modifier) applyOutline(wb *xlsx.Workbook, rule policy.Rule) error {
	area, err := cellref.ParseArea(rule.Border.Merge)
	if err != nil {
		return err
	}

	merged, err := wb.IsMerged(area)
	if err != nil {
		return err
	}
	if !merged {
		// excelize folds an overlapping merge into the existing one, so a
		// larger merge around the rule cell has to go first.
		overlapping, err := wb.Overlapping(area)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			for _, r := range overlapping {
				m.logger.Info("Replacing merge overlapping policy rectangle",
					zap.String("merge", r.Range()),
					zap.String("policy", area.String()),
				)
			}
			if err := wb.Unmerge(area); err != nil {
				return err
			}
		}
		if err := wb.Merge(area); err != nil {
			return err
		}
	}

	edges := rule.Border.Edges
	for _, pos := range area.Cells() {
		left, right := edges.Left, edges.Right
		if pos.Col != area.Start.Col {
			left = nil
		}
		if pos.Col != area.End.Col {
			right = nil
		}
		err := wb.UpdateStyle(pos.String(), func(s *excelize.Style) error {
			for _, e := range []struct {
				side models.Side
				edge *models.BorderEdge
			}{
				{models.SideTop, edges.Top},
				{models.SideBottom, edges.Bottom},
				{models.SideLeft, left},
				{models.SideRight, right},
			} {
				if e.edge == nil && (e.side == models.SideTop || e.side == models.SideBottom) {
					continue
				}
				if err := xlsx.SetEdge(s, e.side, e.edge); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reapply writes a record's borders, font and fill back onto its cell.
func (m *Modifier) reapply(wb *xlsx.Workbook, rec models.CellStyleRecord) *models.StyleApplicationWarning {
	addr, err := cellref.Canonical(rec.Address)
	if err != nil {
		return &models.StyleApplicationWarning{Address: rec.Address, Step: "address", Err: err}
	}
	if addr == m.policy.CommentCell() || m.policy.Governs(addr) {
		return nil
	}
	if rec.Borders.Empty() && rec.Font == nil && rec.Fill == nil {
		return nil
	}

	err = wb.UpdateStyle(addr, func(s *excelize.Style) error {
		for _, side := range models.Sides {
			if rec.Borders.Has(side) {
				edge := &models.BorderEdge{Weight: m.borderWeight, Color: borderColor}
				if err := xlsx.SetEdge(s, side, edge); err != nil {
					return err
				}
			}
		}
		if rec.Font != nil {
			xlsx.OverlayFont(s, *rec.Font)
		}
		if rec.Fill != nil {
			xlsx.ReplaceFill(s, *rec.Fill)
		}
		return nil
	})
	if err != nil {
		return &models.StyleApplicationWarning{Address: addr, Step: "style", Err: err}
	}
	return nil
}
