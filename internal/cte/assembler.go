package cte

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath"
)

// CTE is one rendered entry of a WITH list.
type CTE struct {
	Name            string
	Query           string
	Columns         []string // explicit column list, recursive CTEs only
	DependsOn       []string
	OrderingColumns []string
	Recursive       bool
}

// Assembler turns a fragment bag into one executable statement.
type Assembler struct {
	dialect  dialect.Dialect
	external map[string]bool
}

// New creates an assembler. external names the tables fragments may
// depend on without being part of the bag, such as the resource table.
func New(d dialect.Dialect, external ...string) (*Assembler, error) {
	if d == nil {
		return nil, errors.New("assembler: dialect is required")
	}
	ext := make(map[string]bool, len(external))
	for _, name := range external {
		ext[name] = true
	}
	return &Assembler{dialect: d, external: ext}, nil
}

// Plan orders the bag by dependency and renders every fragment.
func (a *Assembler) Plan(bag []*fhirpath.Fragment) ([]CTE, error) {
	ordered, err := order(bag, a.external)
	if err != nil {
		return nil, err
	}
	ctes := make([]CTE, 0, len(ordered))
	for _, f := range ordered {
		c, err := a.render(f)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f.Name, err)
		}
		ctes = append(ctes, c)
	}
	return ctes, nil
}

// Assemble renders the bag as a WITH list followed by a select that
// returns, for every input row, its id and the final fragment's values
// as one ordered JSON array.
func (a *Assembler) Assemble(bag []*fhirpath.Fragment, final *fhirpath.Fragment) (string, error) {
	if final == nil || final.Name == "" {
		return "", errors.New("assemble: final fragment must be a named bag entry")
	}
	ctes, err := a.Plan(bag)
	if err != nil {
		return "", err
	}

	present := make(map[string]bool, len(ctes))
	for _, c := range ctes {
		present[c.Name] = true
	}
	for _, name := range []string{fhirpath.BaseName, final.Name} {
		if !present[name] {
			return "", fmt.Errorf("%w: %s", ErrUnresolvedDependency, name)
		}
	}

	collect, _, err := sq.Select(a.dialect.AggregateToArray("f.value", "f.ord")).
		From(final.Name + " AS f").
		Where("f.id = ctx.id").
		Where("f.value IS NOT NULL").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build result aggregate: %w", err)
	}

	sql, _, err := sq.Select(
		"ctx.id AS id",
		fmt.Sprintf("COALESCE((%s), %s) AS result", collect, a.dialect.EmptyArrayLiteral()),
	).
		Prefix(withClause(ctes)).
		From(fhirpath.BaseName + " AS ctx").
		OrderBy("ctx.id").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build final select: %w", err)
	}
	return sql, nil
}

func withClause(ctes []CTE) string {
	recursive := false
	parts := make([]string, len(ctes))
	for i, c := range ctes {
		head := c.Name
		if c.Recursive {
			recursive = true
			if len(c.Columns) > 0 {
				head += "(" + strings.Join(c.Columns, ", ") + ")"
			}
		}
		parts[i] = head + " AS (" + c.Query + ")"
	}
	kw := "WITH "
	if recursive {
		kw = "WITH RECURSIVE "
	}
	return kw + strings.Join(parts, ", ")
}
