package receipt

import "github.com/google/uuid"

// UnmappedNumber is the display number for items whose category does not
// resolve to a canonical section. It sorts after every real section.
const UnmappedNumber = 999

// Section is a fixed course used to order lines on a printed receipt.
type Section struct {
	Key    uuid.UUID `json:"key"`
	Number int       `json:"number"`
	Name   string    `json:"name"`
}

func (s Section) IsUnmapped() bool {
	return s.Number == UnmappedNumber
}

var (
	Starters = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000001"), Number: 1, Name: "Starters"}
	Soups    = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000002"), Number: 2, Name: "Soups & Salads"}
	Mains    = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000003"), Number: 3, Name: "Mains"}
	Sides    = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000004"), Number: 4, Name: "Sides"}
	Desserts = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000005"), Number: 5, Name: "Desserts"}
	Drinks   = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000006"), Number: 6, Name: "Drinks"}
	Extras   = Section{Key: uuid.MustParse("5ec7a000-0000-4000-8000-000000000007"), Number: 7, Name: "Extras"}

	Unmapped = Section{Number: UnmappedNumber, Name: "Other"}
)

// Sections lists the canonical sections in print order.
var Sections = []Section{Starters, Soups, Mains, Sides, Desserts, Drinks, Extras}

var sectionsByKey = func() map[string]Section {
	m := make(map[string]Section, len(Sections))
	for _, s := range Sections {
		m[s.Key.String()] = s
	}
	return m
}()

// SectionByKey returns the canonical section whose key matches id.
func SectionByKey(id string) (Section, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Section{}, false
	}
	s, ok := sectionsByKey[parsed.String()]
	return s, ok
}
