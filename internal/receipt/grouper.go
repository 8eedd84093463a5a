package receipt

import (
	"math"
	"sort"
	"strings"

	"github.com/appetiteclub/apt"
)

const noVariant = "none"

// Modifier is a customization printed under its line.
type Modifier struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Free  bool    `json:"free"`
}

// Line is one receipt row. The grouper consumes and produces Lines, so its
// output can be fed back in unchanged.
type Line struct {
	ItemID        string     `json:"item_id"`
	MenuItemID    string     `json:"menu_item_id,omitempty"`
	CategoryID    string     `json:"category_id,omitempty"`
	Name          string     `json:"name"`
	VariantID     string     `json:"variant_id,omitempty"`
	VariantName   string     `json:"variant_name,omitempty"`
	UnitPrice     float64    `json:"unit_price"`
	Quantity      int        `json:"quantity"`
	Total         float64    `json:"total"`
	Modifiers     []Modifier `json:"modifiers,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	DisplayOrder  int        `json:"display_order"`
	SectionNumber int        `json:"section_number"`
	SectionName   string     `json:"section_name"`
	IsGrouped     bool       `json:"is_grouped"`
	SourceItemIDs []string   `json:"source_item_ids,omitempty"`
}

// Groupable reports whether the line may be merged with identical lines.
// Lines carrying customizations or notes always print on their own.
func (l Line) Groupable() bool {
	return len(l.Modifiers) == 0 && strings.TrimSpace(l.Notes) == ""
}

// Block is a run of lines that share a section, used by renderers to print
// section headers.
type Block struct {
	Number int
	Name   string
	Lines  []Line
}

// Grouper merges plain repeated lines and orders the result by section.
type Grouper struct {
	tree           CategoryTree
	itemCategories map[string]string
	sectionNames   map[string]string
	resolver       *Resolver
}

// NewGrouper builds a grouper over a category tree, a menu item to category
// lookup and optional display names keyed by section key.
func NewGrouper(tree CategoryTree, itemCategories map[string]string, sectionNames map[string]string, logger apt.Logger) *Grouper {
	return &Grouper{
		tree:           tree,
		itemCategories: itemCategories,
		sectionNames:   sectionNames,
		resolver:       NewResolver(logger),
	}
}

// Group is a convenience wrapper around Grouper.Group.
func Group(lines []Line, tree CategoryTree, itemCategories map[string]string, sectionNames map[string]string) []Line {
	return NewGrouper(tree, itemCategories, sectionNames, nil).Group(lines)
}

type groupKey struct {
	section int
	name    string
	variant string
	cents   int64
}

type entry struct {
	line  Line
	index int
}

// Group returns the receipt rows for lines. Applying Group to its own
// output returns the same rows.
func (g *Grouper) Group(lines []Line) []Line {
	entries := make([]*entry, 0, len(lines))
	groups := make(map[groupKey]*entry)

	for i, in := range lines {
		l := cloneLine(in)
		if l.Quantity < 1 {
			l.Quantity = 1
		}

		section := g.sectionFor(l)
		l.SectionNumber = section.Number
		l.SectionName = g.sectionName(section)
		if len(l.SourceItemIDs) == 0 && l.ItemID != "" {
			l.SourceItemIDs = []string{l.ItemID}
		}

		if !l.Groupable() {
			entries = append(entries, &entry{line: l, index: i})
			continue
		}

		key := groupKey{
			section: section.Number,
			name:    l.Name,
			variant: variantKey(l.VariantID),
			cents:   toCents(l.UnitPrice),
		}
		if existing, ok := groups[key]; ok {
			existing.line.Quantity += l.Quantity
			existing.line.SourceItemIDs = append(existing.line.SourceItemIDs, l.SourceItemIDs...)
			continue
		}

		e := &entry{line: l, index: i}
		groups[key] = e
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.line.SectionNumber != b.line.SectionNumber {
			return a.line.SectionNumber < b.line.SectionNumber
		}
		if a.line.DisplayOrder != b.line.DisplayOrder {
			return a.line.DisplayOrder < b.line.DisplayOrder
		}
		return a.index < b.index
	})

	out := make([]Line, 0, len(entries))
	for _, e := range entries {
		l := e.line
		l.UnitPrice = fromCents(toCents(l.UnitPrice))
		l.Total = lineTotal(l)
		l.IsGrouped = l.Groupable() && l.Quantity > 1
		out = append(out, l)
	}
	return out
}

// Blocks splits grouped lines at section boundaries.
func Blocks(lines []Line) []Block {
	var blocks []Block
	for _, l := range lines {
		if n := len(blocks); n > 0 && blocks[n-1].Number == l.SectionNumber {
			blocks[n-1].Lines = append(blocks[n-1].Lines, l)
			continue
		}
		blocks = append(blocks, Block{Number: l.SectionNumber, Name: l.SectionName, Lines: []Line{l}})
	}
	return blocks
}

func (g *Grouper) sectionFor(l Line) Section {
	categoryID := l.CategoryID
	if categoryID == "" && l.MenuItemID != "" {
		categoryID = g.itemCategories[l.MenuItemID]
	}
	section, _ := g.resolver.ResolveSection(categoryID, g.tree)
	return section
}

func (g *Grouper) sectionName(s Section) string {
	if name, ok := g.sectionNames[s.Key.String()]; ok && !s.IsUnmapped() && name != "" {
		return name
	}
	return s.Name
}

func variantKey(id string) string {
	if id == "" {
		return noVariant
	}
	return id
}

func lineTotal(l Line) float64 {
	unit := toCents(l.UnitPrice)
	for _, m := range l.Modifiers {
		if !m.Free {
			unit += toCents(m.Price)
		}
	}
	return fromCents(unit * int64(l.Quantity))
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}

func cloneLine(l Line) Line {
	if l.Modifiers != nil {
		l.Modifiers = append([]Modifier(nil), l.Modifiers...)
	}
	if l.SourceItemIDs != nil {
		l.SourceItemIDs = append([]string(nil), l.SourceItemIDs...)
	}
	return l
}
