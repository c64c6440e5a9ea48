package index

import (
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/btree"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
)

// StyleIndex orders style records by position for range scans and answers
// "is there a record at this address" without a tree walk for most misses.
type StyleIndex struct {
	primary  *btree.BTree
	inverted map[string][]cellref.Address
	bloom    *bloom.BloomFilter
	builtAt  time.Time
	mu       sync.RWMutex
}

type positionKey struct {
	Pos    cellref.Address
	Record *models.CellStyleRecord
}

func (k positionKey) Less(other btree.Item) bool {
	if o, ok := other.(positionKey); ok {
		return k.Pos.Less(o.Pos)
	}
	return false
}

// New indexes records. Records with unparseable addresses are skipped and
// returned so the caller can report them.
func New(records []models.CellStyleRecord) (*StyleIndex, []string) {
	// Bloom filter sized for the record count with 1% false positives.
	n := uint(len(records))
	if n < 64 {
		n = 64
	}

	idx := &StyleIndex{
		primary:  btree.New(32),
		inverted: make(map[string][]cellref.Address),
		bloom:    bloom.NewWithEstimates(n, 0.01),
		builtAt:  time.Now(),
	}

	var skipped []string
	for i := range records {
		rec := records[i]
		pos, err := cellref.Parse(rec.Address)
		if err != nil {
			skipped = append(skipped, rec.Address)
			continue
		}
		key := pos.String()
		idx.primary.ReplaceOrInsert(positionKey{Pos: pos, Record: &rec})
		idx.bloom.Add([]byte(key))

		if text := normalizeText(rec.Value.String()); text != "" {
			idx.inverted[text] = append(idx.inverted[text], pos)
		}
	}

	return idx, skipped
}

// Get returns the record at addr.
func (idx *StyleIndex) Get(addr string) (models.CellStyleRecord, bool) {
	pos, err := cellref.Parse(addr)
	if err != nil {
		return models.CellStyleRecord{}, false
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	// Check bloom filter first for quick negative results
	if !idx.bloom.Test([]byte(pos.String())) {
		return models.CellStyleRecord{}, false
	}

	item := idx.primary.Get(positionKey{Pos: pos})
	if item == nil {
		return models.CellStyleRecord{}, false
	}
	return *item.(positionKey).Record, true
}

// Range returns the records inside area in row-major order.
func (idx *StyleIndex) Range(area cellref.Area) []models.CellStyleRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []models.CellStyleRecord
	from := positionKey{Pos: area.Start}
	to := positionKey{Pos: cellref.Address{Row: area.End.Row, Col: area.End.Col + 1}}

	idx.primary.AscendRange(from, to, func(item btree.Item) bool {
		key := item.(positionKey)
		if area.Contains(key.Pos) {
			out = append(out, *key.Record)
		}
		return true
	})
	return out
}

// All returns every record in row-major order.
func (idx *StyleIndex) All() []models.CellStyleRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]models.CellStyleRecord, 0, idx.primary.Len())
	idx.primary.Ascend(func(item btree.Item) bool {
		out = append(out, *item.(positionKey).Record)
		return true
	})
	return out
}

// Search finds cells whose value equals text, ignoring case and surrounding
// whitespace.
func (idx *StyleIndex) Search(text string) []models.CellStyleRecord {
	idx.mu.RLock()
	positions := idx.inverted[normalizeText(text)]
	idx.mu.RUnlock()

	out := make([]models.CellStyleRecord, 0, len(positions))
	for _, pos := range positions {
		if rec, ok := idx.Get(pos.String()); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (idx *StyleIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.primary.Len()
}

func (idx *StyleIndex) GetStats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return map[string]interface{}{
		"records":        idx.primary.Len(),
		"distinct_texts": len(idx.inverted),
		"bloom_capacity": idx.bloom.Cap(),
		"built_at":       idx.builtAt,
	}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
