package fhirpath

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// unionOperands flattens a chain of | operators into its leaves, left to
// right, without translating anything.
func unionOperands(n parser.Node) []parser.Node {
	if b, ok := n.(*parser.BinaryOp); ok && b.Op == "|" {
		return append(unionOperands(b.Left), unionOperands(b.Right)...)
	}
	return []parser.Node{n}
}

// union translates each operand of the whole chain once and combines them
// in one UNION ALL, ordered by operand then element. Duplicates are kept.
func (t *Translator) union(n *parser.BinaryOp) (*Fragment, error) {
	nodes := unionOperands(n)
	operands := make([]*Fragment, len(nodes))
	for i, node := range nodes {
		f, err := t.visit(node)
		if err != nil {
			return nil, err
		}
		operands[i] = f
	}
	if t.inLambda() {
		return t.unionInline(operands), nil
	}
	return t.unionRoot(operands)
}

func (t *Translator) unionRoot(operands []*Fragment) (*Fragment, error) {
	parts := make([]string, 0, len(operands))
	var deps []string
	for i, op := range operands {
		var part sq.SelectBuilder
		if op.IsCTE() {
			part = sq.Select(
				op.Name+".id AS id",
				fmt.Sprintf("%d AS operand_index", i),
				op.Name+".ord AS element_index",
				op.Name+".value AS value",
			).From(op.Name)
			deps = append(deps, op.Name)
		} else {
			if op.MetaString(MetaLiteralType) == parser.LitEmpty.String() {
				continue
			}
			e := t.d().EnumerateArray(t.asJSON(op), "$", t.nextAlias("e"))
			part = sq.Select(
				"ctx.id AS id",
				fmt.Sprintf("%d AS operand_index", i),
				e.Index+" AS element_index",
				e.Value+" AS value",
			).From(BaseName + " AS ctx, " + e.From)
			deps = append(deps, BaseName)
		}
		sql, _, err := part.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build union operand %d: %w", i, err)
		}
		parts = append(parts, sql)
		deps = append(deps, op.Dependencies...)
	}
	if len(parts) == 0 {
		return newCollection(t.d().NullJSON()), nil
	}

	body, _, err := sq.Select(
		"u.id AS id",
		"ROW_NUMBER() OVER (PARTITION BY u.id ORDER BY u.operand_index, u.element_index) AS ord",
		"u.value AS value",
	).From("(" + strings.Join(parts, " UNION ALL ") + ") AS u").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build union: %w", err)
	}

	f := &Fragment{
		Expression:   body,
		Shape:        ShapeQuery,
		Dependencies: mergeDeps(deps),
		Metadata:     map[string]any{},
	}
	f.set(MetaOrderingColumns, []string{"operand_index", "element_index"})
	f.set(MetaElementType, t.commonElementType(operands))
	return t.emit(f), nil
}

func (t *Translator) unionInline(operands []*Fragment) *Fragment {
	parts := make([]string, 0, len(operands))
	var deps [][]string
	for i, op := range operands {
		e := t.d().EnumerateArray(t.asJSON(op), "$", t.nextAlias("e"))
		parts = append(parts, fmt.Sprintf("SELECT %d AS operand_index, %s AS element_index, %s AS elem FROM %s", i, e.Index, e.Value, e.From))
		deps = append(deps, op.Dependencies)
	}
	u := t.nextAlias("u")
	expr := fmt.Sprintf("(SELECT %s FROM (%s) AS %s)",
		t.d().AggregateToArray(u+".elem", u+".operand_index, "+u+".element_index"),
		strings.Join(parts, " UNION ALL "), u)
	f := newCollection(expr, deps...)
	f.set(MetaElementType, t.commonElementType(operands))
	return f
}

// commonElementType is the element type shared by every operand, or "".
func (t *Translator) commonElementType(operands []*Fragment) string {
	common := ""
	for i, op := range operands {
		et := t.elementType(op)
		if i == 0 {
			common = et
		} else if et != common {
			return ""
		}
	}
	return common
}
