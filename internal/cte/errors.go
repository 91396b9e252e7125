package cte

import "errors"

var (
	// ErrUnresolvedDependency: a fragment depends on a name that is neither
	// in the bag nor a declared external table.
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	// ErrDependencyCycle: fragments depend on each other in a cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
)
