package fhirpath

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

func (t *Translator) call(n *parser.FunctionCall) (*Fragment, error) {
	def, ok := parser.GetFunction(n.Name)
	if !ok {
		return nil, fmt.Errorf("%w: function %s()", ErrUnsupported, n.Name)
	}
	if err := def.CheckArity(len(n.Args)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	switch n.Name {
	case "today":
		return newInline(t.d().CurrentDate(), dialect.KindDate), nil
	case "now":
		return newInline(t.d().CurrentTimestamp(), dialect.KindDateTime), nil
	case "iif":
		if n.Target != nil {
			// x.iif(c, a, b) evaluates its arguments against each element of x.
			body := &parser.FunctionCall{Source: n.Source, Name: n.Name, Args: n.Args}
			return t.call(&parser.FunctionCall{Source: n.Source, Target: n.Target, Name: "select", Args: []parser.Node{body}})
		}
		return t.iif(n.Args)
	}

	recv, err := t.receiver(n)
	if err != nil {
		return nil, err
	}

	switch n.Name {
	case "where":
		return t.where(recv, n.Args[0])
	case "select":
		return t.selectFn(recv, n.Args[0])
	case "repeat":
		return t.repeat(recv, n.Args[0])
	case "aggregate":
		return t.aggregate(recv, n.Args[0], optionalArg(n.Args, 1))
	case "exists", "all", "empty", "count", "hasValue":
		return t.existence(n.Name, recv, optionalArg(n.Args, 0))
	case "first", "last", "tail":
		return t.subset(n.Name, recv, nil)
	case "take", "skip":
		return t.subset(n.Name, recv, n.Args[0])
	case "single":
		return t.single(recv)
	case "ofType", "is", "as":
		typeName, err := typeNameOf(n.Args[0])
		if err != nil {
			return nil, err
		}
		if n.Name == "ofType" {
			return t.ofType(recv, typeName)
		}
		return t.typed(n.Name, recv, typeName)
	}

	args := []*Fragment{recv}
	for _, a := range n.Args {
		f, err := t.visit(a)
		if err != nil {
			return nil, err
		}
		args = append(args, f)
	}
	return t.lift(args, perRowAlways, func(ops []*Fragment) (*Fragment, error) {
		return t.scalarFn(n.Name, ops)
	})
}

// receiver is the input collection of a call: its target, or the current
// context when the call has none.
func (t *Translator) receiver(n *parser.FunctionCall) (*Fragment, error) {
	if n.Target != nil {
		return t.visit(n.Target)
	}
	if t.inLambda() {
		return t.lookup("this")
	}
	return t.base, nil
}

func optionalArg(args []parser.Node, i int) parser.Node {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// scalarFn renders a function over single values. ops[0] is the input.
func (t *Translator) scalarFn(name string, ops []*Fragment) (*Fragment, error) {
	x := t.singleton(ops[0])
	deps := make([][]string, 0, len(ops))
	for _, op := range ops {
		deps = append(deps, op.Dependencies)
	}
	d := t.d()

	switch name {
	case "not":
		return newInline("(NOT "+t.boolean(x)+")", dialect.KindBoolean, deps...), nil
	case "length":
		return newInline("length("+t.text(x)+")", dialect.KindInteger, deps...), nil
	case "upper", "lower":
		return newInline(name+"("+t.text(x)+")", dialect.KindString, deps...), nil
	case "startsWith":
		expr := fmt.Sprintf("(substr(%[1]s, 1, length(%[2]s)) = %[2]s)", t.text(x), t.text(ops[1]))
		return newInline(expr, dialect.KindBoolean, deps...), nil
	case "endsWith":
		expr := fmt.Sprintf("(substr(%[1]s, length(%[1]s) - length(%[2]s) + 1) = %[2]s)", t.text(x), t.text(ops[1]))
		return newInline(expr, dialect.KindBoolean, deps...), nil
	case "contains":
		expr := fmt.Sprintf("(length(%[2]s) = 0 OR length(replace(%[1]s, %[2]s, '')) < length(%[1]s))", t.text(x), t.text(ops[1]))
		return newInline(expr, dialect.KindBoolean, deps...), nil
	case "toString":
		return newInline(t.text(x), dialect.KindString, deps...), nil
	case "toInteger":
		if x.Kind() == dialect.KindInteger {
			return x, nil
		}
		return newInline(d.SafeCastToInteger(t.text(x)), dialect.KindInteger, deps...), nil
	case "toDecimal":
		if x.Kind() == dialect.KindDecimal {
			return x, nil
		}
		return newInline(d.SafeCastToDecimal(t.text(x)), dialect.KindDecimal, deps...), nil
	case "toBoolean":
		if x.Kind() == dialect.KindBoolean {
			return x, nil
		}
		return newInline(d.SafeCastToBoolean(t.text(x)), dialect.KindBoolean, deps...), nil
	case "toDate":
		if x.Kind() == dialect.KindDate {
			return x, nil
		}
		return newInline(d.SafeCastToDate(t.text(x)), dialect.KindDate, deps...), nil
	case "toDateTime":
		if x.Kind() == dialect.KindDateTime {
			return x, nil
		}
		return newInline(d.SafeCastToTimestamp(t.text(x)), dialect.KindDateTime, deps...), nil
	default:
		return nil, fmt.Errorf("%w: function %s()", ErrUnsupported, name)
	}
}

// iif(criterion, then [, otherwise]). Branches of different kinds, or
// collection branches, are both rendered as JSON.
func (t *Translator) iif(args []parser.Node) (*Fragment, error) {
	ops := make([]*Fragment, len(args))
	for i, a := range args {
		f, err := t.visit(a)
		if err != nil {
			return nil, err
		}
		ops[i] = f
	}
	return t.lift(ops, perRowNever, func(ops []*Fragment) (*Fragment, error) {
		cond, then := ops[0], ops[1]
		var otherwise *Fragment
		if len(ops) > 2 {
			otherwise = ops[2]
		}

		kind := then.Kind()
		collection := then.isCollection() || otherwise != nil && otherwise.isCollection()
		thenSQL := then.Expression
		elseSQL := ""
		if otherwise != nil {
			elseSQL = otherwise.Expression
			if collection || otherwise.Kind() != kind {
				kind = dialect.KindJSON
				thenSQL, elseSQL = t.asJSON(then), t.asJSON(otherwise)
			}
		} else if collection {
			kind = dialect.KindJSON
			thenSQL = t.asJSON(then)
		}

		c := sq.Case().When(t.boolean(cond), thenSQL)
		if otherwise != nil {
			c = c.Else(elseSQL)
		}
		sql, _, err := c.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build iif: %w", err)
		}

		var deps [][]string
		for _, op := range ops {
			deps = append(deps, op.Dependencies)
		}
		f := newInline("("+sql+")", kind, deps...)
		f.set(MetaCollection, collection)
		if otherwise == nil || then.MetaString(MetaElementType) == otherwise.MetaString(MetaElementType) {
			f.set(MetaElementType, then.MetaString(MetaElementType))
		}
		return f, nil
	})
}
