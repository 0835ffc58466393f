package pyscan

import (
	"strings"

	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/position"
)

// collectTemplates builds a TemplateString for every t-prefixed string
// token, with its fragment partition. Binding context (variable names,
// annotations, call sites) is attached by parseStatements beforehand via
// the file's binding map.
func collectTemplates(f *File, toks []token) {
	for _, t := range toks {
		if t.kind != tokString || !strings.Contains(t.prefix, "t") {
			continue
		}
		ts := &TemplateString{
			Span:        t.span,
			ContentSpan: t.contentSpan,
			Raw:         strings.Contains(t.prefix, "r"),
			Triple:      t.triple,
			ArgIndex:    -1,
		}
		splitFragments(f, ts)
		if b, ok := f.bindings[t.span.Start]; ok {
			ts.VarName = b.varName
			ts.Annotation = b.annotation
			ts.CallName = b.callName
			ts.ArgIndex = b.argIndex
			ts.KeywordArg = b.keywordArg
		}
		f.Templates = append(f.Templates, ts)
	}
}

// splitFragments partitions the content span into literal and
// interpolation fragments. Doubled braces stay inside literal fragments.
// An unterminated interpolation is diagnosed and consumes the rest of the
// content so the partition invariant still holds.
func splitFragments(f *File, ts *TemplateString) {
	src := f.Source
	start := ts.ContentSpan.Start
	end := ts.ContentSpan.End

	litStart := start
	i := start
	for i < end {
		c := src[i]
		if c == '{' || c == '}' {
			if i+1 < end && src[i+1] == c {
				i += 2 // escaped brace, stays literal
				continue
			}
			if c == '}' {
				// stray close brace, tolerated as literal text
				i++
				continue
			}
			if i > litStart {
				ts.Fragments = append(ts.Fragments, Fragment{
					Kind: FragmentLiteral,
					Span: position.NewSpan(litStart, i),
				})
			}
			next := scanInterpolation(f, ts, src, i, end)
			i = next
			litStart = next
			continue
		}
		if c == '\\' && !ts.Raw && i+1 < end {
			i += 2
			continue
		}
		i++
	}
	if end > litStart || len(ts.Fragments) == 0 {
		ts.Fragments = append(ts.Fragments, Fragment{
			Kind: FragmentLiteral,
			Span: position.NewSpan(litStart, end),
		})
	}
}

// scanInterpolation consumes one {...} hole starting at the open brace
// and appends its fragment. Returns the offset just past the close brace,
// or end when the hole is unterminated.
func scanInterpolation(f *File, ts *TemplateString, src string, open, end int) int {
	depth := 1
	exprEnd := -1
	i := open + 1
	for i < end {
		c := src[i]
		switch c {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
			if depth == 0 && c == '}' {
				if exprEnd < 0 {
					exprEnd = i
				}
				ts.Fragments = append(ts.Fragments, Fragment{
					Kind: FragmentInterp,
					Span: position.NewSpan(open, i+1),
					Expr: position.NewSpan(open+1, exprEnd),
				})
				return i + 1
			}
		case '\'', '"':
			i = skipQuoted(src, i, end)
			continue
		case '!':
			// conversion marker, but != is an operator
			if depth == 1 && exprEnd < 0 && (i+1 >= end || src[i+1] != '=') {
				exprEnd = i
			}
		case ':':
			if depth == 1 && exprEnd < 0 {
				exprEnd = i
			}
		}
		i++
	}
	f.Diagnostics = append(f.Diagnostics, diagnostic.New(
		position.NewSpan(open, end),
		diagnostic.Error, diagnostic.StagePython,
		"unterminated interpolation in template string"))
	if exprEnd < 0 {
		exprEnd = end
	}
	ts.Fragments = append(ts.Fragments, Fragment{
		Kind: FragmentInterp,
		Span: position.NewSpan(open, end),
		Expr: position.NewSpan(open+1, exprEnd),
	})
	return end
}

// skipQuoted advances past a quoted string inside an interpolation
// expression. Returns the offset just past the closing quote, or end.
func skipQuoted(src string, i, end int) int {
	quote := src[i]
	i++
	for i < end {
		if src[i] == '\\' && i+1 < end {
			i += 2
			continue
		}
		if src[i] == quote {
			return i + 1
		}
		i++
	}
	return end
}
