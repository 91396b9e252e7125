package fhirpath

import "errors"

var (
	// ErrParseMetadata: a node lacks metadata translation needs, such as the
	// target type of is/as/ofType.
	ErrParseMetadata = errors.New("missing node metadata")
	// ErrUnboundVariable: a variable is referenced outside any scope binding it.
	ErrUnboundVariable = errors.New("unbound variable")
	// ErrCardinality: single() on input not provably single-valued.
	ErrCardinality = errors.New("cardinality violation")
	// ErrUnsupported: a function or construct the translator does not implement.
	ErrUnsupported = errors.New("unsupported expression")
)
