package fhirpath

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
	"github.com/atlekbai/fhirpath_sql/internal/schema"
)

func newTestTranslator(t *testing.T, opts ...func(*Options)) *Translator {
	t.Helper()
	o := Options{
		Dialect:  dialect.SQLite{},
		Registry: schema.NewDefaultCache(),
		Logger:   slog.New(slog.DiscardHandler),
	}
	for _, fn := range opts {
		fn(&o)
	}
	tr, err := New(o)
	require.NoError(t, err)
	return tr
}

func translate(t *testing.T, tr *Translator, expr string) *Result {
	t.Helper()
	node, err := parser.Parse(expr)
	require.NoError(t, err, expr)
	res, err := tr.Translate(node)
	require.NoError(t, err, expr)
	return res
}

func translateErr(t *testing.T, tr *Translator, expr string) error {
	t.Helper()
	node, err := parser.Parse(expr)
	require.NoError(t, err, expr)
	_, err = tr.Translate(node)
	require.Error(t, err, expr)
	return err
}

func findShape(bag []*Fragment, shape Shape) *Fragment {
	for _, f := range bag {
		if f.Shape == shape {
			return f
		}
	}
	return nil
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Registry: schema.NewDefaultCache()})
	require.Error(t, err)
	_, err = New(Options{Dialect: dialect.SQLite{}})
	require.Error(t, err)
}

func TestTranslateDefaults(t *testing.T) {
	tr := newTestTranslator(t)
	assert.Equal(t, "resources", tr.opts.Table)
	assert.Equal(t, DefaultMaxDepth, tr.opts.MaxDepth)

	res := translate(t, tr, "Patient")
	require.NotEmpty(t, res.Bag)
	base := res.Bag[0]
	assert.Equal(t, BaseName, base.Name)
	assert.Equal(t, `SELECT t."id" AS id, 0 AS ord, t."resource" AS value FROM "resources" AS t`, base.Expression)
	assert.Equal(t, []string{"resources"}, base.Dependencies)
	assert.True(t, base.MetaBool(MetaRoot))
}

func TestTranslateIsDeterministic(t *testing.T) {
	tr := newTestTranslator(t)
	expr := "Patient.name.where(use = 'official').given.first() | Patient.telecom.value"
	first := translate(t, tr, expr)
	second := translate(t, tr, expr)
	require.Equal(t, len(first.Bag), len(second.Bag))
	for i := range first.Bag {
		assert.Equal(t, first.Bag[i].Name, second.Bag[i].Name)
		assert.Equal(t, first.Bag[i].Expression, second.Bag[i].Expression)
	}
}

func TestBagNamesAreUnique(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.given.count() + Patient.telecom.count()")
	seen := map[string]bool{}
	for _, f := range res.Bag {
		assert.False(t, seen[f.Name], f.Name)
		seen[f.Name] = true
	}
}

// --- union ---

func TestUnionGrowsLinearly(t *testing.T) {
	tr := newTestTranslator(t)
	single := translate(t, tr, "Patient.name.family")
	perOperand := len(single.Bag) - 1 // everything but base

	for _, n := range []int{2, 3, 5, 9, 20} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			operands := make([]string, n)
			for i := range operands {
				operands[i] = "Patient.name.family"
			}
			res := translate(t, tr, strings.Join(operands, " | "))

			assert.Len(t, res.Bag, 1+n*perOperand+1)
			assert.Equal(t, n-1, strings.Count(res.Final.Expression, "UNION ALL"))
			assert.Equal(t, 1, strings.Count(res.Final.Expression, "ROW_NUMBER()"))
			for i := range n {
				assert.Contains(t, res.Final.Expression, fmt.Sprintf("%d AS operand_index", i))
			}
		})
	}
}

func TestUnionOfConstants(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "(3 | 1 | 2)")
	assert.Len(t, res.Bag, 2)
	assert.Equal(t, 2, strings.Count(res.Final.Expression, "UNION ALL"))
	assert.Equal(t, []string{"operand_index", "element_index"}, res.Final.MetaStrings(MetaOrderingColumns))

	res = translate(t, tr, "{} | {}")
	assert.Equal(t, ShapeQuery, res.Final.Shape)
	assert.NotContains(t, res.Final.Expression, "UNION ALL")
}

// --- scope ---

func TestScopeIsRestored(t *testing.T) {
	tr := newTestTranslator(t)
	translate(t, tr, "Patient.name.where(given.exists()).select($this.family)")
	assert.Equal(t, 0, tr.scope.depth())

	err := translateErr(t, tr, "Patient.name.where(given.where($nope).exists())")
	require.ErrorIs(t, err, ErrUnboundVariable)
	assert.Equal(t, 0, tr.scope.depth())
}

func TestUnboundVariables(t *testing.T) {
	tr := newTestTranslator(t)
	for _, expr := range []string{"$this", "$index", "$total", "Patient.name.where($total > 1)", "%nope"} {
		err := translateErr(t, tr, expr)
		assert.ErrorIs(t, err, ErrUnboundVariable, expr)
	}
}

func TestSiblingLambdasBindTheirOwnThis(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.where($this.use = 'official').exists() and Patient.telecom.where($this.system = 'phone').exists()")
	var filters []string
	for _, f := range res.Bag {
		if filter := f.MetaString(MetaFilter); strings.Contains(filter, "$.use") || strings.Contains(filter, "$.system") {
			filters = append(filters, filter)
		}
	}
	require.Len(t, filters, 2)
	assert.NotContains(t, filters[0], "$.system")
	assert.NotContains(t, filters[1], "$.use")
}

func TestIsolatedRestoresBag(t *testing.T) {
	tr := newTestTranslator(t)
	translate(t, tr, "Patient")
	before := len(tr.bag)
	_, err := tr.isolated(func() (*Fragment, error) {
		tr.emit(&Fragment{Expression: "SELECT 1", Shape: ShapeQuery})
		tr.emit(&Fragment{Expression: "SELECT 2", Shape: ShapeQuery})
		return nil, nil
	})
	require.NoError(t, err)
	assert.Len(t, tr.bag, before)
}

func TestLambdasDoNotAddFragments(t *testing.T) {
	tr := newTestTranslator(t)
	plain := translate(t, tr, "Patient.name")
	filtered := translate(t, tr, "Patient.name.where(given.where($this.startsWith('J')).exists() and family.exists())")
	// One projection for the where, nothing for the lambda body.
	assert.Len(t, filtered.Bag, len(plain.Bag)+1)
}

func TestIndexRenumbersRows(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.given.where($index > 0)")
	require.NotNil(t, findShape(res.Bag, ShapeQuery))
	var ranked bool
	for _, f := range res.Bag {
		if strings.Contains(f.Expression, "ROW_NUMBER() OVER (PARTITION BY") {
			ranked = true
		}
	}
	assert.True(t, ranked)
	assert.Contains(t, res.Final.MetaString(MetaFilter), "(ord - 1)")
}

// --- metadata ---

func TestOperatorResultsAreFreshScalars(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.given = 'Jim'")
	f := res.Final
	assert.False(t, f.RequiresUnnest)
	assert.NotEqual(t, ShapeUnnest, f.Shape)
	assert.Equal(t, dialect.KindBoolean, f.ScalarType())
	assert.Empty(t, f.MetaString(MetaElementType))
	assert.Empty(t, f.MetaString(MetaSchemaPath))

	coll := newCollection("x").set(MetaElementType, "HumanName")
	cmp := tr.compare("=", coll, newInline("'a'", dialect.KindString))
	assert.Equal(t, dialect.KindBoolean, cmp.Kind())
	assert.False(t, cmp.isCollection())
	assert.Empty(t, cmp.MetaString(MetaElementType))
}

func TestSubsetRecoversElementType(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.first()")
	assert.Equal(t, "HumanName", res.Final.MetaString(MetaElementType))
	assert.Equal(t, "value", res.Final.MetaString(MetaCurrentElement))
	assert.True(t, res.Final.isSingleton())

	src := &Fragment{Name: "cte_9", Metadata: map[string]any{MetaSchemaPath: "Patient.name.given"}}
	assert.Equal(t, "string", tr.elementType(src))
}

func TestLiteralTypesAreTagged(t *testing.T) {
	tr := newTestTranslator(t)
	tests := []struct {
		expr string
		kind parser.LiteralKind
		sql  string
	}{
		{"42", parser.LitInteger, "42"},
		{"1.50", parser.LitDecimal, "1.50"},
		{"true", parser.LitBoolean, "TRUE"},
		{`'it\'s'`, parser.LitString, "'it''s'"},
		{"@T12:30", parser.LitTime, "'12:30'"},
	}
	for _, tt := range tests {
		node, err := parser.Parse(tt.expr)
		require.NoError(t, err)
		f, err := tr.literal(node.(*parser.Literal))
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.kind.String(), f.MetaString(MetaLiteralType), tt.expr)
		assert.Equal(t, tt.sql, f.Expression, tt.expr)
	}
}

// --- comparison casts ---

func TestComparisonCasts(t *testing.T) {
	d := dialect.SQLite{}
	tr := newTestTranslator(t)

	res := translate(t, tr, "Patient.multipleBirthInteger > 1")
	assert.Contains(t, res.Final.Expression, d.SafeCastToInteger("(value ->> '$')"))

	res = translate(t, tr, "Patient.multipleBirthInteger > 1.5")
	assert.Contains(t, res.Final.Expression, d.SafeCastToDecimal("(value ->> '$')"))

	res = translate(t, tr, "Observation.valueString > 10")
	assert.Contains(t, res.Final.Expression, d.SafeCastToDecimal("(value ->> '$')"))

	res = translate(t, tr, "Patient.birthDate < @2000-01-01")
	assert.Contains(t, res.Final.Expression, d.SafeCastToDate("(value ->> '$')"))

	res = translate(t, tr, "Patient.active = true")
	assert.Contains(t, res.Final.Expression, d.SafeCastToBoolean("(value ->> '$')"))

	res = translate(t, tr, "Patient.gender = 'male'")
	assert.Contains(t, res.Final.Expression, "((value ->> '$') = 'male')")

	res = translate(t, tr, "Patient.name.where(family != 10.0)")
	assert.Contains(t, res.Final.MetaString(MetaFilter), d.SafeCastToDecimal("((value -> '$.family') ->> '$')")+" <> 10.0")
}

func TestComparableCastsExtractedText(t *testing.T) {
	d := dialect.SQLite{}
	tr := newTestTranslator(t)

	doc := newInline("x.value", dialect.KindJSON).set(MetaElementType, "integer")
	text := tr.extracted(doc)
	assert.True(t, text.MetaBool(MetaJSONExtractedString))
	assert.Equal(t, "integer", text.MetaString(MetaElementType))

	num := newInline("5", dialect.KindInteger)
	assert.Equal(t, d.SafeCastToInteger("(x.value ->> '$')"), tr.comparable(doc, num))
	assert.Equal(t, d.SafeCastToInteger("(x.value ->> '$')"), tr.comparable(text, num))

	str := newInline("'a'", dialect.KindString)
	assert.Equal(t, "(x.value ->> '$')", tr.comparable(doc, str))
	assert.Equal(t, "'a'", tr.comparable(str, doc))
	assert.Equal(t, d.ComparableJSON("x.value"), tr.comparable(doc, doc))
}

func TestEquivalence(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.where(family ~ 'smith')")
	filter := res.Final.MetaString(MetaFilter)
	assert.Contains(t, filter, "lower(")
	assert.Contains(t, filter, "IS NULL AND")
}

// --- recursion ---

func TestRepeatIsBounded(t *testing.T) {
	tr := newTestTranslator(t, func(o *Options) { o.MaxDepth = 7 })
	res := translate(t, tr, "Questionnaire.item.repeat(item).linkId")

	rec := findShape(res.Bag, ShapeRecursive)
	require.NotNil(t, rec)
	assert.True(t, rec.MetaBool(MetaRecursive))
	assert.Equal(t, []string{"id", "seq", "elem", "depth", "path"}, rec.MetaStrings(MetaColumns))
	assert.Contains(t, rec.Expression, "w.depth < 7")
	assert.Contains(t, rec.Expression, "NOT EXISTS (SELECT 1 FROM json_each(w.path)")
	assert.Contains(t, rec.Expression, "FROM "+rec.Name+" AS w")
	assert.Equal(t, "string", res.Final.MetaString(MetaElementType))
}

func TestAggregateStartsEmpty(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.given.aggregate($total & $this)")
	rec := findShape(res.Bag, ShapeRecursive)
	require.NotNil(t, rec)
	assert.Contains(t, rec.Expression, "SELECT ctx.id AS id, 0 AS step, NULL AS total FROM base AS ctx")
	assert.Contains(t, rec.Expression, "r.ord = a.step + 1")

	res = translate(t, tr, "Patient.name.given.aggregate($total & $this, 'x')")
	rec = findShape(res.Bag, ShapeRecursive)
	require.NotNil(t, rec)
	assert.Contains(t, rec.Expression, "nullif(json_quote('x'), 'null') AS total")
}

// --- types ---

func TestTypeOperations(t *testing.T) {
	tr := newTestTranslator(t)

	res := translate(t, tr, "Patient.birthDate is date")
	assert.Contains(t, res.Final.Expression, "(json_type(value) = 'text')")

	res = translate(t, tr, "Patient.name.ofType(FHIR.HumanName)")
	assert.Equal(t, "TRUE", res.Final.MetaString(MetaFilter))
	assert.Equal(t, "HumanName", res.Final.MetaString(MetaElementType))

	res = translate(t, tr, "%resource.is(Patient)")
	assert.Contains(t, res.Final.Expression, "(value ->> '$.resourceType') = 'Patient'")

	res = translate(t, tr, "Patient.multipleBirthInteger as integer")
	assert.Contains(t, res.Final.Expression, "(json_type(value) = 'integer')")

	res = translate(t, tr, "(1 is Integer) and ('a' is System.Boolean).not()")
	assert.Contains(t, res.Final.Expression, "TRUE")
}

func TestTypeOperationErrors(t *testing.T) {
	tr := newTestTranslator(t)

	err := translateErr(t, tr, "Patient.name is Nope")
	assert.ErrorIs(t, err, ErrParseMetadata)

	err = translateErr(t, tr, "Patient.name.ofType('HumanName')")
	assert.ErrorIs(t, err, ErrParseMetadata)

	_, err = tr.Translate(&parser.Identifier{Name: "Patient"})
	require.NoError(t, err)
	_, err = tr.typeOp(&parser.TypeOp{Op: "is", Operand: &parser.Identifier{Name: "Patient"}})
	assert.ErrorIs(t, err, ErrParseMetadata)
}

// --- cardinality and unsupported ---

func TestSingle(t *testing.T) {
	tr := newTestTranslator(t)
	translate(t, tr, "Patient.single()")
	translate(t, tr, "Patient.birthDate.single()")
	translate(t, tr, "Patient.name.first().single()")

	err := translateErr(t, tr, "Patient.name.single()")
	assert.ErrorIs(t, err, ErrCardinality)
}

func TestUnsupported(t *testing.T) {
	tr := newTestTranslator(t)
	err := translateErr(t, tr, "Patient.name.distinct()")
	assert.ErrorIs(t, err, ErrUnsupported)

	err = translateErr(t, tr, "Patient.name.take(Patient.name.count())")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRootDocumentInsideLambda(t *testing.T) {
	tr := newTestTranslator(t)
	res := translate(t, tr, "Patient.name.where(%resource.active = true)")
	filter := res.Final.MetaString(MetaFilter)
	assert.Contains(t, filter, "FROM base AS rb")
	assert.Contains(t, filter, ".id = id)")
	assert.Contains(t, res.Final.Dependencies, BaseName)
}
