package library

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Comparator orders track file names. Compare returns 0 when the comparator
// cannot tell two names apart.
type Comparator interface {
	Name() string
	Compare(a, b string) int
}

// NaturalOrder compares digit runs numerically and ignores case, so
// "Part 2" sorts before "Part 10".
type NaturalOrder struct{}

func (NaturalOrder) Name() string { return "natural" }

func (NaturalOrder) Compare(a, b string) int {
	return collate.New(language.Und, collate.Numeric, collate.IgnoreCase).CompareString(a, b)
}

// LexicalOrder compares names byte-wise.
type LexicalOrder struct{}

func (LexicalOrder) Name() string { return "lexical" }

func (LexicalOrder) Compare(a, b string) int { return strings.Compare(a, b) }

// ComparatorByName returns the comparator for a config value; unknown names
// fall back to natural ordering.
func ComparatorByName(name string) Comparator {
	if strings.EqualFold(strings.TrimSpace(name), "lexical") {
		return LexicalOrder{}
	}
	return NaturalOrder{}
}

// TrackOrder is the ordered track list plus any pairs the comparator could not
// separate. Ties are broken lexically so the order is still deterministic, but
// a non-empty Ambiguous list means the caller must not trust it.
type TrackOrder struct {
	Tracks    []string
	Ambiguous [][2]string
}

// OrderTracks sorts names with cmp.
func OrderTracks(names []string, cmp Comparator) TrackOrder {
	if cmp == nil {
		cmp = NaturalOrder{}
	}
	sorted := append([]string(nil), names...)
	slices.SortStableFunc(sorted, func(a, b string) int {
		if c := cmp.Compare(a, b); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	order := TrackOrder{Tracks: sorted}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev != cur && cmp.Compare(prev, cur) == 0 {
			order.Ambiguous = append(order.Ambiguous, [2]string{prev, cur})
		}
	}
	return order
}
