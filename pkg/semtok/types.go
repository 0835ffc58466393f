// Package semtok synthesizes one semantic-token stream per document,
// merging outer Python tokens, interpolation expressions, and embedded
// language tokens remapped to absolute positions.
package semtok

import (
	"github.com/koxudaxi/t-linter/pkg/grammar"
	"github.com/koxudaxi/t-linter/pkg/position"
)

// Type is an LSP semantic token type. Values match the wire legend.
type Type string

const (
	TypeNamespace Type = "namespace"
	TypeClass     Type = "class"
	TypeType      Type = "type"
	TypeParameter Type = "parameter"
	TypeVariable  Type = "variable"
	TypeProperty  Type = "property"
	TypeFunction  Type = "function"
	TypeKeyword   Type = "keyword"
	TypeComment   Type = "comment"
	TypeString    Type = "string"
	TypeNumber    Type = "number"
	TypeOperator  Type = "operator"
	TypeDecorator Type = "decorator"
)

// Modifier is a semantic token modifier bitmask.
type Modifier uint32

const (
	ModNone Modifier = 0
	// ModDeclaration marks defining occurrences.
	ModDeclaration Modifier = 1 << iota
	// ModReadonly marks constants.
	ModReadonly
	// ModDefaultLibrary marks builtins.
	ModDefaultLibrary
)

// legendTypes is the wire legend, in index order. Type values index into
// this slice during encoding.
var legendTypes = []Type{
	TypeNamespace, TypeClass, TypeType, TypeParameter, TypeVariable,
	TypeProperty, TypeFunction, TypeKeyword, TypeComment, TypeString,
	TypeNumber, TypeOperator, TypeDecorator,
}

var legendModifiers = []string{"declaration", "readonly", "defaultLibrary"}

// LegendTypes returns the token type legend sent in the initialize result.
func LegendTypes() []string {
	out := make([]string, len(legendTypes))
	for i, t := range legendTypes {
		out[i] = string(t)
	}
	return out
}

// LegendModifiers returns the token modifier legend.
func LegendModifiers() []string {
	out := make([]string, len(legendModifiers))
	copy(out, legendModifiers)
	return out
}

func typeIndex(t Type) int {
	for i, lt := range legendTypes {
		if lt == t {
			return i
		}
	}
	return -1
}

// Token is one semantic token at an absolute document span.
type Token struct {
	Type Type
	Mod  Modifier
	Span position.Span
}

// kindType maps embedded grammar kinds onto legend types.
var kindType = map[grammar.Kind]Type{
	grammar.KindKeyword:   TypeKeyword,
	grammar.KindString:    TypeString,
	grammar.KindNumber:    TypeNumber,
	grammar.KindComment:   TypeComment,
	grammar.KindOperator:  TypeOperator,
	grammar.KindTag:       TypeType,
	grammar.KindAttribute: TypeProperty,
	grammar.KindProperty:  TypeProperty,
	grammar.KindVariable:  TypeVariable,
	grammar.KindPunct:     TypeOperator,
}
