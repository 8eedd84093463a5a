package receipt

import "github.com/appetiteclub/apt"

// MaxCategoryDepth bounds the parent walk so a cyclic category tree cannot
// loop forever.
const MaxCategoryDepth = 32

// CategoryTree maps a category id to its parent category id. Root categories
// either have no entry or map to "".
type CategoryTree map[string]string

// Resolver walks category trees up to their canonical section.
type Resolver struct {
	logger apt.Logger
}

func NewResolver(logger apt.Logger) *Resolver {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Resolver{logger: logger}
}

// ResolveSection returns the section a category belongs to. The second
// return is false when the category is unmapped, in which case the
// Unmapped sentinel is returned.
func (r *Resolver) ResolveSection(categoryID string, tree CategoryTree) (Section, bool) {
	if categoryID == "" {
		return Unmapped, false
	}

	current := categoryID
	for depth := 0; depth <= MaxCategoryDepth; depth++ {
		if s, ok := SectionByKey(current); ok {
			return s, true
		}

		parent, ok := tree[current]
		if !ok || parent == "" {
			return Unmapped, false
		}
		if s, ok := SectionByKey(parent); ok {
			return s, true
		}
		current = parent
	}

	r.logger.Error("category tree exceeds max depth, treating as unmapped",
		"category_id", categoryID,
		"max_depth", MaxCategoryDepth,
	)
	return Unmapped, false
}

// ResolveSection resolves with a noop logger.
func ResolveSection(categoryID string, tree CategoryTree) (Section, bool) {
	return defaultResolver.ResolveSection(categoryID, tree)
}

var defaultResolver = NewResolver(nil)
