// Package analyzer turns an xlsx buffer into style records, cell contents and
// merged regions for the first worksheet.
package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
	"torg12-server/internal/policy"
	"torg12-server/internal/xlsx"
)

type Analyzer struct {
	policy *policy.Policy
	logger *zap.Logger
}

func New(p *policy.Policy, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{policy: p, logger: logger}
}

// Analyze scans the first worksheet of data. Records come out row by row,
// left to right; cells without a value get no record. Policy cells present in
// the scan carry the policy's required font and borders as expectations.
//
// The context is only checked before parsing starts.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wb, err := xlsx.Open(data)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	merges, err := wb.Merges()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze merges: %w", err)
	}

	rows, err := wb.Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze cells: %w", err)
	}

	result := &models.Analysis{
		Sheet:    wb.Sheet(),
		Records:  make([]models.CellStyleRecord, 0),
		Contents: make(map[string]models.CellContent),
		Merges:   merges,
	}

	for r, row := range rows {
		for c, raw := range row {
			if raw == "" {
				continue
			}
			addr := cellref.MustEncode(r+1, c+1)

			content, err := wb.Content(addr, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to analyze cell: %w", err)
			}
			record, err := a.styleRecord(wb, addr, content.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to analyze cell: %w", err)
			}

			result.Contents[addr] = content
			result.Records = append(result.Records, record)
		}
	}

	a.logger.Debug("Analyzed workbook",
		zap.String("sheet", result.Sheet),
		zap.Int("records", len(result.Records)),
		zap.Int("merges", len(result.Merges)),
	)

	return result, nil
}

func (a *Analyzer) styleRecord(wb *xlsx.Workbook, addr string, value models.CellValue) (models.CellStyleRecord, error) {
	record := models.CellStyleRecord{Address: addr, Value: value}

	style, id, err := wb.Style(addr)
	if err != nil {
		return record, err
	}
	if id != 0 {
		record.Borders = xlsx.Borders(style)
		record.Font = xlsx.Font(style)
		record.Fill = xlsx.Fill(style)
	}

	if rule, ok := a.policy.Lookup(addr); ok {
		expectPolicy(&record, rule)
	}
	return record, nil
}

// expectPolicy folds a rule's requirements into a record. Only the in-memory
// record changes.
func expectPolicy(record *models.CellStyleRecord, rule policy.Rule) {
	if rule.Font != nil {
		record.Font = rule.Font.Apply(record.Font)
	}
	required := rule.RequiredBorders()
	for _, side := range models.Sides {
		if edge := required.Edge(side); edge != nil {
			record.Borders = record.Borders.With(side, edge)
		}
	}
}
