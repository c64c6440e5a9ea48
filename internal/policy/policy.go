// Package policy holds the fixed table of cells whose style the TORG-12 form
// requires regardless of what an uploaded workbook contains.
package policy

import (
	"fmt"
	"sort"

	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
)

const (
	// DefaultCommentCell receives the user's free text.
	DefaultCommentCell = "AD18"

	// BottomBorderWeight is written for rules that only demand a bottom edge.
	BottomBorderWeight = models.BorderMedium

	black = "000000"
)

// FontFragment lists the font fields a rule enforces. Empty fields are left
// as found.
type FontFragment struct {
	Name  string
	Size  float64
	Color string
}

// Apply overlays the fragment onto font. A nil font starts empty.
func (f FontFragment) Apply(font *models.FontSpec) *models.FontSpec {
	out := models.FontSpec{}
	if font != nil {
		out = *font
	}
	if f.Name != "" {
		out.Name = f.Name
	}
	if f.Size > 0 {
		out.Size = f.Size
	}
	if f.Color != "" {
		out.Color = f.Color
	}
	return &out
}

// BorderRule demands edges on a cell, or on the outline of Merge when set.
type BorderRule struct {
	Edges models.BorderSet
	Merge string
}

// Rule is one entry of the table. At most one of Font, Border and
// RequireBottomBorder is set.
type Rule struct {
	Address             string
	Font                *FontFragment
	Border              *BorderRule
	RequireBottomBorder bool
}

func (r Rule) clone() Rule {
	out := r
	if r.Font != nil {
		f := *r.Font
		out.Font = &f
	}
	if r.Border != nil {
		b := BorderRule{Merge: r.Border.Merge}
		for _, side := range models.Sides {
			b.Edges = b.Edges.With(side, r.Border.Edges.Edge(side))
		}
		out.Border = &b
	}
	return out
}

// Policy is an immutable rule table plus the comment cell address. It is
// built once and shared read-only by the analyzer, modifier and validator.
type Policy struct {
	commentCell string
	rules       map[string]Rule
	order       []string
	areas       []cellref.Area
}

// New validates and freezes a rule table.
func New(commentCell string, rules ...Rule) (*Policy, error) {
	comment, err := cellref.Canonical(commentCell)
	if err != nil {
		return nil, fmt.Errorf("comment cell: %w", err)
	}

	p := &Policy{
		commentCell: comment,
		rules:       make(map[string]Rule, len(rules)),
	}

	for _, r := range rules {
		addr, err := cellref.Canonical(r.Address)
		if err != nil {
			return nil, fmt.Errorf("policy rule: %w", err)
		}
		if _, dup := p.rules[addr]; dup {
			return nil, fmt.Errorf("policy rule %s declared twice", addr)
		}
		if addr == comment {
			return nil, fmt.Errorf("policy rule %s collides with the comment cell", addr)
		}

		kinds := 0
		if r.Font != nil {
			kinds++
		}
		if r.Border != nil {
			kinds++
		}
		if r.RequireBottomBorder {
			kinds++
		}
		if kinds > 1 {
			return nil, fmt.Errorf("policy rule %s sets more than one requirement", addr)
		}

		rule := r.clone()
		rule.Address = addr
		if rule.Border != nil && rule.Border.Merge != "" {
			area, err := cellref.ParseArea(rule.Border.Merge)
			if err != nil {
				return nil, fmt.Errorf("policy rule %s merge range: %w", addr, err)
			}
			if area.Start.String() != addr {
				return nil, fmt.Errorf("policy rule %s merge range %s must start at the rule cell", addr, area)
			}
			rule.Border.Merge = area.String()
			p.areas = append(p.areas, area)
		}

		p.rules[addr] = rule
		p.order = append(p.order, addr)
	}

	return p, nil
}

// Default returns the TORG-12 header policy.
func Default() *Policy {
	thick := &models.BorderEdge{Weight: models.BorderThick, Color: black}
	outline := models.BorderSet{Top: thick, Right: thick, Bottom: thick, Left: thick}

	p, err := New(DefaultCommentCell,
		Rule{Address: "BF4", Font: &FontFragment{Name: "Arial", Size: 9, Color: black}},
		Rule{Address: "BJ6", Font: &FontFragment{Name: "Arial", Size: 9, Color: black}},
		Rule{Address: "BM4", Border: &BorderRule{Edges: outline, Merge: "BM4:BS4"}},
		Rule{Address: "BM5", Border: &BorderRule{Edges: outline, Merge: "BM5:BS5"}},
		Rule{Address: "A3", RequireBottomBorder: true},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// CommentCell is the canonical address of the free-text cell.
func (p *Policy) CommentCell() string {
	return p.commentCell
}

// Rules returns copies of all rules in declaration order.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, 0, len(p.order))
	for _, addr := range p.order {
		out = append(out, p.rules[addr].clone())
	}
	return out
}

// Lookup returns the rule declared for a canonical address.
func (p *Policy) Lookup(addr string) (Rule, bool) {
	r, ok := p.rules[addr]
	if !ok {
		return Rule{}, false
	}
	return r.clone(), true
}

// Governs reports whether the rule table owns the style of addr, either
// directly or through a merge rectangle. Unparseable addresses are not
// governed.
func (p *Policy) Governs(addr string) bool {
	if _, ok := p.rules[addr]; ok {
		return true
	}
	a, err := cellref.Parse(addr)
	if err != nil {
		return false
	}
	for _, area := range p.areas {
		if area.Contains(a) {
			return true
		}
	}
	return false
}

// Addresses returns the rule addresses sorted row-major.
func (p *Policy) Addresses() []string {
	out := append([]string(nil), p.order...)
	sort.Slice(out, func(i, j int) bool {
		a, _ := cellref.Parse(out[i])
		b, _ := cellref.Parse(out[j])
		return a.Less(b)
	})
	return out
}

// RequiredBorders returns the edges rule demands on its own cell.
func (r Rule) RequiredBorders() models.BorderSet {
	switch {
	case r.Border != nil:
		return r.Border.Edges
	case r.RequireBottomBorder:
		return models.BorderSet{Bottom: &models.BorderEdge{Weight: BottomBorderWeight, Color: black}}
	}
	return models.BorderSet{}
}
