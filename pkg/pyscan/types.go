// Package pyscan is the outer parser: it scans Python source for
// template-string literals (PEP 750 t"..." forms), splits each literal
// into literal and interpolation fragments, and collects the module-level
// type surface (imports, type aliases, function signatures, call sites)
// the resolver needs.
//
// The scanner is a hand-written surface scanner, not a full Python parser.
// It recovers from malformed template syntax by diagnosing the offending
// span and continuing with a best-effort partition for the rest of the
// file.
package pyscan

import (
	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/position"
)

// FragmentKind distinguishes literal text from interpolation holes.
type FragmentKind int

const (
	// FragmentLiteral is raw embedded-language text.
	FragmentLiteral FragmentKind = iota
	// FragmentInterp is a {...} interpolation hole containing a Python
	// expression.
	FragmentInterp
)

// Fragment is one contiguous piece of a template string's content.
// Fragments partition the content span exactly: no gaps, no overlaps.
type Fragment struct {
	Kind FragmentKind

	// Span is the fragment's absolute byte range in the document. For
	// interpolations it covers the braces.
	Span position.Span

	// Expr is the expression sub-span for interpolations, excluding the
	// braces and any !conversion or :format suffix. Zero for literals.
	Expr position.Span
}

// TemplateString is one t-string occurrence with its binding context.
type TemplateString struct {
	// Span covers the whole literal including prefix and quotes.
	Span position.Span

	// ContentSpan covers the text between the quotes. Fragments
	// partition this span.
	ContentSpan position.Span

	Fragments []Fragment

	// Raw and Triple record the string prefix and quoting form.
	Raw    bool
	Triple bool

	// VarName is the assignment target when the literal is the RHS of an
	// assignment, "" otherwise.
	VarName string

	// Annotation is the raw annotation text on the assignment target,
	// "" when unannotated.
	Annotation string

	// CallName, ArgIndex and KeywordArg describe the call site when the
	// literal appears as a call argument. ArgIndex is -1 outside calls.
	CallName   string
	ArgIndex   int
	KeywordArg string
}

// Partitioned verifies the fragment partition invariant: fragments cover
// ContentSpan contiguously and their lengths sum to its length.
func (t *TemplateString) Partitioned() bool {
	at := t.ContentSpan.Start
	total := 0
	for _, f := range t.Fragments {
		if f.Span.Start != at || f.Span.End < f.Span.Start {
			return false
		}
		at = f.Span.End
		total += f.Span.Len()
	}
	return at == t.ContentSpan.End && total == t.ContentSpan.Len()
}

// Param is one parameter in a function signature.
type Param struct {
	Name  string
	Index int

	// Annotation is the raw annotation text, "" when untyped.
	Annotation string
}

// ModuleContext is the type surface of one module.
type ModuleContext struct {
	// Imports maps local names to dotted import paths
	// ("Ann" -> "typing.Annotated").
	Imports map[string]string

	// Aliases maps type-alias names to their raw right-hand-side text.
	Aliases map[string]string

	// Signatures maps function names to their parameter lists.
	Signatures map[string][]Param

	// AliasSpans and SignatureSpans locate the defining statements, used
	// by the incremental layer to detect definition edits.
	AliasSpans     map[string]position.Span
	SignatureSpans map[string]position.Span
}

func newModuleContext() *ModuleContext {
	return &ModuleContext{
		Imports:        map[string]string{},
		Aliases:        map[string]string{},
		Signatures:     map[string][]Param{},
		AliasSpans:     map[string]position.Span{},
		SignatureSpans: map[string]position.Span{},
	}
}

// ImportedAs reports whether local name binds (directly or via dotted
// suffix) to the given qualified target, e.g. ImportedAs("Ann",
// "typing.Annotated").
func (m *ModuleContext) ImportedAs(name, qualified string) bool {
	target, ok := m.Imports[name]
	if !ok {
		return false
	}
	if target == qualified {
		return true
	}
	// "string.templatelib.Template" also satisfies ".Template" suffixes.
	suffix := qualified[indexLastDot(qualified):]
	return len(target) > len(suffix) && target[len(target)-len(suffix):] == suffix
}

func indexLastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return 0
}

// RawKind classifies surface tokens kept for outer highlighting.
type RawKind int

const (
	RawKeyword RawKind = iota
	RawString
	RawNumber
	RawComment
	RawDecorator
)

// RawToken is a surface token retained for outer highlighting.
type RawToken struct {
	Kind RawKind
	Span position.Span
}

// File is the result of scanning one Python source file.
type File struct {
	Path   string
	Source string

	Templates []*TemplateString
	Context   *ModuleContext

	// RawTokens are outer-highlighting tokens in document order.
	RawTokens []RawToken

	Diagnostics []diagnostic.Diagnostic

	// bindings maps a template literal's start offset to the binding
	// context the statement parser recovered for it.
	bindings map[int]binding
}

type binding struct {
	varName    string
	annotation string
	callName   string
	argIndex   int
	keywordArg string
}
