package parser

import "fmt"

// ArgKind classifies how a function argument is evaluated.
type ArgKind int

const (
	ArgValue  ArgKind = iota // evaluated once against the input context
	ArgLambda                // evaluated per element with $this bound
	ArgType                  // a type specifier, read as metadata
)

// FuncDef describes a supported function.
type FuncDef struct {
	Name     string
	ArgTypes []ArgKind
	Optional int // number of trailing ArgTypes that may be omitted
}

// CheckArity validates an argument count against the definition.
func (f *FuncDef) CheckArity(n int) error {
	maxArgs := len(f.ArgTypes)
	minArgs := maxArgs - f.Optional
	if n < minArgs || n > maxArgs {
		if minArgs == maxArgs {
			return fmt.Errorf("function %s expects %d argument(s), got %d", f.Name, maxArgs, n)
		}
		return fmt.Errorf("function %s expects %d to %d arguments, got %d", f.Name, minArgs, maxArgs, n)
	}
	return nil
}

// Arg returns the kind of argument i.
func (f *FuncDef) Arg(i int) ArgKind {
	if i < len(f.ArgTypes) {
		return f.ArgTypes[i]
	}
	return ArgValue
}

// Functions is the registry of supported functions.
var Functions = map[string]*FuncDef{
	// Filtering and projection
	"where":     {Name: "where", ArgTypes: []ArgKind{ArgLambda}},
	"select":    {Name: "select", ArgTypes: []ArgKind{ArgLambda}},
	"repeat":    {Name: "repeat", ArgTypes: []ArgKind{ArgLambda}},
	"aggregate": {Name: "aggregate", ArgTypes: []ArgKind{ArgLambda, ArgValue}, Optional: 1},
	"ofType":    {Name: "ofType", ArgTypes: []ArgKind{ArgType}},

	// Existence
	"exists":   {Name: "exists", ArgTypes: []ArgKind{ArgLambda}, Optional: 1},
	"all":      {Name: "all", ArgTypes: []ArgKind{ArgLambda}},
	"empty":    {Name: "empty"},
	"count":    {Name: "count"},
	"hasValue": {Name: "hasValue"},

	// Subsetting
	"single": {Name: "single"},
	"first":  {Name: "first"},
	"last":   {Name: "last"},
	"tail":   {Name: "tail"},
	"take":   {Name: "take", ArgTypes: []ArgKind{ArgValue}},
	"skip":   {Name: "skip", ArgTypes: []ArgKind{ArgValue}},

	// Types
	"is": {Name: "is", ArgTypes: []ArgKind{ArgType}},
	"as": {Name: "as", ArgTypes: []ArgKind{ArgType}},

	// Boolean and control
	"not": {Name: "not"},
	"iif": {Name: "iif", ArgTypes: []ArgKind{ArgValue, ArgValue, ArgValue}, Optional: 1},

	// Strings
	"length":     {Name: "length"},
	"upper":      {Name: "upper"},
	"lower":      {Name: "lower"},
	"startsWith": {Name: "startsWith", ArgTypes: []ArgKind{ArgValue}},
	"endsWith":   {Name: "endsWith", ArgTypes: []ArgKind{ArgValue}},
	"contains":   {Name: "contains", ArgTypes: []ArgKind{ArgValue}},

	// Conversion
	"toString":   {Name: "toString"},
	"toInteger":  {Name: "toInteger"},
	"toDecimal":  {Name: "toDecimal"},
	"toBoolean":  {Name: "toBoolean"},
	"toDate":     {Name: "toDate"},
	"toDateTime": {Name: "toDateTime"},

	// Clock
	"today": {Name: "today"},
	"now":   {Name: "now"},
}

// GetFunction returns the FuncDef for name and whether it was found.
func GetFunction(name string) (*FuncDef, bool) {
	f, ok := Functions[name]
	return f, ok
}
