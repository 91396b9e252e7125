package cte

import (
	"fmt"
	"slices"
	"strings"

	"github.com/atlekbai/fhirpath_sql/internal/fhirpath"
)

// order sorts the bag so that every fragment follows the fragments it
// depends on. Among fragments that are ready at the same time the one
// emitted first goes first, so an already ordered bag keeps its order.
func order(bag []*fhirpath.Fragment, external map[string]bool) ([]*fhirpath.Fragment, error) {
	index := make(map[string]int, len(bag))
	for i, f := range bag {
		if f.Name == "" {
			return nil, fmt.Errorf("fragment %d has no name", i)
		}
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate fragment %q", f.Name)
		}
		index[f.Name] = i
	}

	inDegree := make([]int, len(bag))
	dependents := make([][]int, len(bag))
	var missing []string
	for i, f := range bag {
		for _, dep := range f.Dependencies {
			if dep == f.Name {
				continue
			}
			j, ok := index[dep]
			if !ok {
				if !external[dep] {
					missing = append(missing, dep)
				}
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedDependency, strings.Join(slices.Compact(missing), ", "))
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]*fhirpath.Fragment, 0, len(bag))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, bag[i])
		for _, j := range dependents[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				pos, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, pos, j)
			}
		}
	}

	if len(out) < len(bag) {
		var stuck []string
		for i, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, bag[i].Name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return out, nil
}
