// Package sets provides a small generic set, used for the driver's SQL
// Server port filter.
package sets

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/tdscap/tdscap/slices"
)

// Set is an unordered collection of unique comparable values.
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](vs ...T) Set[T] {
	s := make(Set[T], len(vs))
	s.Insert(vs...)
	return s
}

func (s Set[T]) Insert(vs ...T) {
	for _, v := range vs {
		s[v] = struct{}{}
	}
}

func (s Set[T]) Contains(v T) bool {
	_, exists := s[v]
	return exists
}

// String renders the elements sorted by their formatted form, so log lines
// mentioning a set are stable across runs.
func (s Set[T]) String() string {
	elems := slices.Map(maps.Keys(s), func(v T) string { return fmt.Sprint(v) })
	sort.Strings(elems)
	return "{" + strings.Join(elems, " ") + "}"
}
