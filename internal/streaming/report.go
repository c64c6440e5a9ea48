// Package streaming writes analysis and validation reports as NDJSON: one
// metadata line, batched data lines, then a completion line.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"torg12-server/internal/models"
)

// DefaultBatchSize is the number of items per data line.
const DefaultBatchSize = 100

// ContentType of every stream written by this package.
const ContentType = "application/x-ndjson"

// StreamingResponse encodes one JSON event per line and flushes when the
// writer supports it.
type StreamingResponse struct {
	writer  io.Writer
	encoder *json.Encoder
}

func NewStreamingResponse(writer io.Writer) *StreamingResponse {
	return &StreamingResponse{
		writer:  writer,
		encoder: json.NewEncoder(writer),
	}
}

func (sr *StreamingResponse) WriteMetadata(metadata interface{}) error {
	return sr.encoder.Encode(map[string]interface{}{
		"type": "metadata",
		"data": metadata,
	})
}

func (sr *StreamingResponse) WriteData(dataType string, data interface{}) error {
	return sr.encoder.Encode(map[string]interface{}{
		"type": dataType,
		"data": data,
	})
}

func (sr *StreamingResponse) WriteError(err error) error {
	return sr.encoder.Encode(map[string]interface{}{
		"type":  "error",
		"error": err.Error(),
	})
}

func (sr *StreamingResponse) WriteComplete() error {
	return sr.encoder.Encode(map[string]interface{}{
		"type": "complete",
	})
}

func (sr *StreamingResponse) Flush() {
	if flusher, ok := sr.writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

type batch struct {
	Start int         `json:"start"`
	Items interface{} `json:"items"`
}

// writeBatches emits n items as dataType lines of at most size items each.
// slice(i, j) returns items [i, j).
func (sr *StreamingResponse) writeBatches(ctx context.Context, dataType string, n, size int, slice func(i, j int) interface{}) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for i := 0; i < n; i += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + size
		if end > n {
			end = n
		}
		if err := sr.WriteData(dataType, batch{Start: i, Items: slice(i, end)}); err != nil {
			return fmt.Errorf("failed to encode %s batch: %w", dataType, err)
		}
		sr.Flush()
	}
	return nil
}

type analysisMeta struct {
	Sheet    string `json:"sheet"`
	Records  int    `json:"records"`
	Contents int    `json:"contents"`
	Merges   int    `json:"merges"`
}

type addressedContent struct {
	Address string `json:"address"`
	models.CellContent
}

// StreamAnalysis writes a as metadata, "records" batches, "contents" batches
// in record order, one "merges" line and a completion marker.
func StreamAnalysis(ctx context.Context, w io.Writer, a *models.Analysis, batchSize int) error {
	sr := NewStreamingResponse(w)

	if err := sr.WriteMetadata(analysisMeta{
		Sheet:    a.Sheet,
		Records:  len(a.Records),
		Contents: len(a.Contents),
		Merges:   len(a.Merges),
	}); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	sr.Flush()

	if err := sr.writeBatches(ctx, "records", len(a.Records), batchSize, func(i, j int) interface{} {
		return a.Records[i:j]
	}); err != nil {
		return err
	}

	contents := make([]addressedContent, 0, len(a.Contents))
	for _, r := range a.Records {
		if c, ok := a.Contents[r.Address]; ok {
			contents = append(contents, addressedContent{Address: r.Address, CellContent: c})
		}
	}
	if err := sr.writeBatches(ctx, "contents", len(contents), batchSize, func(i, j int) interface{} {
		return contents[i:j]
	}); err != nil {
		return err
	}

	if err := sr.WriteData("merges", a.Merges); err != nil {
		return fmt.Errorf("failed to encode merges: %w", err)
	}

	if err := sr.WriteComplete(); err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}
	sr.Flush()
	return nil
}

type validationMeta struct {
	IsValid      bool `json:"is_valid"`
	TotalCells   int  `json:"total_cells"`
	ValidCells   int  `json:"valid_cells"`
	InvalidCells int  `json:"invalid_cells"`
}

// StreamValidation writes s as metadata, "results" batches and a completion
// marker.
func StreamValidation(ctx context.Context, w io.Writer, s *models.ValidationSummary, batchSize int) error {
	sr := NewStreamingResponse(w)

	if err := sr.WriteMetadata(validationMeta{
		IsValid:      s.IsValid,
		TotalCells:   s.TotalCells,
		ValidCells:   s.ValidCells,
		InvalidCells: s.InvalidCells,
	}); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	sr.Flush()

	if err := sr.writeBatches(ctx, "results", len(s.Results), batchSize, func(i, j int) interface{} {
		return s.Results[i:j]
	}); err != nil {
		return err
	}

	if err := sr.WriteComplete(); err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}
	sr.Flush()
	return nil
}
