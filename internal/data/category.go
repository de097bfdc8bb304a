package data

import (
	"fmt"
	"strings"
)

// Category partitions downloadable items. Each category has its own task
// manager and its own operation log file, so work in different categories
// never contends.
type Category string

const (
	CategoryTitle   Category = "title"
	CategoryChapter Category = "chapter"
	CategoryCover   Category = "cover"
)

var categories = []Category{CategoryTitle, CategoryChapter, CategoryCover}

// Categories returns every known category in a stable order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range categories {
		if k == c {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts singular or plural spellings in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadCategory, s)
	}
	return c, nil
}
