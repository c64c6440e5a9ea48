// Package validation re-analyzes a produced workbook and compares each cell's
// style with the records taken from the original upload.
package validation

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"torg12-server/internal/analyzer"
	"torg12-server/internal/index"
	"torg12-server/internal/models"
	"torg12-server/internal/policy"
)

const IssueNotInOriginal = "cell not found in original"

type Validator struct {
	policy   *policy.Policy
	analyzer *analyzer.Analyzer
	logger   *zap.Logger
}

func New(p *policy.Policy, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		policy:   p,
		analyzer: analyzer.New(p, logger),
		logger:   logger,
	}
}

// Validate analyzes data and checks every populated cell against the record
// at the same address in originals. Mismatches are reported in the summary,
// never as errors; an error means data could not be read at all.
func (v *Validator) Validate(ctx context.Context, data []byte, originals []models.CellStyleRecord) (*models.ValidationSummary, error) {
	idx, skipped := index.New(originals)
	if len(skipped) > 0 {
		v.logger.Warn("Ignored original records with bad addresses", zap.Strings("addresses", skipped))
	}
	return v.ValidateIndex(ctx, data, idx)
}

// ValidateIndex is Validate with the original records already indexed.
func (v *Validator) ValidateIndex(ctx context.Context, data []byte, idx *index.StyleIndex) (*models.ValidationSummary, error) {
	current, err := v.analyzer.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}

	summary := &models.ValidationSummary{
		Results: make([]models.ValidationResult, 0, len(current.Records)),
	}
	for _, rec := range current.Records {
		result := v.check(rec, idx)
		if result.IsValid {
			summary.ValidCells++
		} else {
			summary.InvalidCells++
		}
		summary.Results = append(summary.Results, result)
	}
	summary.TotalCells = len(summary.Results)
	summary.IsValid = summary.InvalidCells == 0

	v.logger.Info("Validated workbook",
		zap.Int("total", summary.TotalCells),
		zap.Int("invalid", summary.InvalidCells),
	)

	return summary, nil
}

func (v *Validator) check(rec models.CellStyleRecord, idx *index.StyleIndex) models.ValidationResult {
	result := models.ValidationResult{Address: rec.Address, Issues: []string{}}

	if rec.Address == v.policy.CommentCell() {
		result.IsValid = true
		return result
	}

	orig, ok := idx.Get(rec.Address)
	if !ok {
		result.Issues = append(result.Issues, IssueNotInOriginal)
		return result
	}

	result.Issues = append(result.Issues, CompareStyles(orig, rec)...)
	result.IsValid = len(result.Issues) == 0
	return result
}

// CompareStyles lists the differences between an expected and an actual
// record: edge presence per side, font fields when both carry a font, and the
// fill as a whole.
func CompareStyles(expected, actual models.CellStyleRecord) []string {
	var issues []string

	for _, side := range models.Sides {
		if expected.Borders.Has(side) != actual.Borders.Has(side) {
			issues = append(issues, fmt.Sprintf("%s border mismatch", side))
		}
	}

	if expected.Font != nil && actual.Font != nil {
		e, a := expected.Font, actual.Font
		if e.Name != a.Name {
			issues = append(issues, "font name mismatch")
		}
		if e.Size != a.Size {
			issues = append(issues, "font size mismatch")
		}
		if e.Bold != a.Bold {
			issues = append(issues, "font bold mismatch")
		}
		if e.Italic != a.Italic {
			issues = append(issues, "font italic mismatch")
		}
		if e.Underline != a.Underline {
			issues = append(issues, "font underline mismatch")
		}
		if e.Color != a.Color {
			issues = append(issues, "font color mismatch")
		}
	}

	if !fillsEqual(expected.Fill, actual.Fill) {
		issues = append(issues, "fill mismatch")
	}

	return issues
}

func fillsEqual(a, b *models.FillSpec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a.Colors) == 0 && len(b.Colors) == 0 {
		return a.Type == b.Type && a.Pattern == b.Pattern && a.Shading == b.Shading
	}
	return reflect.DeepEqual(a, b)
}
