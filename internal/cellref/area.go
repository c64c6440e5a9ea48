package cellref

import (
	"strings"
)

// Area is a rectangle of cells with Start at the top-left corner and End at
// the bottom-right corner.
type Area struct {
	Start Address
	End   Address
}

// NewArea normalizes two corners into a top-left/bottom-right rectangle.
func NewArea(a, b Address) Area {
	return Area{
		Start: Address{Row: min(a.Row, b.Row), Col: min(a.Col, b.Col)},
		End:   Address{Row: max(a.Row, b.Row), Col: max(a.Col, b.Col)},
	}
}

// ParseArea parses "BM4:BS4". A single address is a one-cell area.
func ParseArea(s string) (Area, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	first, err := Parse(parts[0])
	if err != nil {
		return Area{}, err
	}
	if len(parts) == 1 {
		return Area{Start: first, End: first}, nil
	}
	last, err := Parse(parts[1])
	if err != nil {
		return Area{}, err
	}
	return NewArea(first, last), nil
}

// String formats the area as "START:END".
func (a Area) String() string {
	return a.Start.String() + ":" + a.End.String()
}

// Contains reports whether addr lies inside the rectangle.
func (a Area) Contains(addr Address) bool {
	return addr.Row >= a.Start.Row && addr.Row <= a.End.Row &&
		addr.Col >= a.Start.Col && addr.Col <= a.End.Col
}

// Overlaps reports whether two rectangles share at least one cell.
func (a Area) Overlaps(b Area) bool {
	return a.Start.Row <= b.End.Row && b.Start.Row <= a.End.Row &&
		a.Start.Col <= b.End.Col && b.Start.Col <= a.End.Col
}

// Cells lists every address in the rectangle in row-major order.
func (a Area) Cells() []Address {
	cells := make([]Address, 0, (a.End.Row-a.Start.Row+1)*(a.End.Col-a.Start.Col+1))
	for row := a.Start.Row; row <= a.End.Row; row++ {
		for col := a.Start.Col; col <= a.End.Col; col++ {
			cells = append(cells, Address{Row: row, Col: col})
		}
	}
	return cells
}
