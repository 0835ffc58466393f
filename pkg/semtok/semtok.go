package semtok

import (
	"sort"

	"github.com/koxudaxi/t-linter/pkg/grammar"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
)

// rawType maps outer scanner token kinds onto legend types.
var rawType = map[pyscan.RawKind]Type{
	pyscan.RawKeyword:   TypeKeyword,
	pyscan.RawString:    TypeString,
	pyscan.RawNumber:    TypeNumber,
	pyscan.RawComment:   TypeComment,
	pyscan.RawDecorator: TypeDecorator,
}

// Synthesize merges outer tokens, interpolation expressions and embedded
// tokens into one stream in strict document order. results is keyed by
// template index in f.Templates; a missing or non-highlightable entry
// renders that template as an opaque string.
func Synthesize(f *pyscan.File, results map[int]*grammar.Result) []Token {
	var out []Token

	for _, rt := range f.RawTokens {
		out = append(out, Token{Type: rawType[rt.Kind], Span: rt.Span})
	}

	for i, ts := range f.Templates {
		res := results[i]
		if res == nil || !res.Tag.Highlightable() {
			out = append(out, Token{Type: TypeString, Span: ts.Span})
			continue
		}
		out = append(out, templateTokens(ts, res)...)
	}

	return normalize(out)
}

// templateTokens renders one highlightable template: quotes and prefix as
// string, interpolation frames as operator, interpolation expressions as
// parameter, and embedded tokens remapped from fragment-local to absolute
// spans.
func templateTokens(ts *pyscan.TemplateString, res *grammar.Result) []Token {
	var out []Token

	if ts.ContentSpan.Start > ts.Span.Start {
		out = append(out, Token{Type: TypeString,
			Span: position.NewSpan(ts.Span.Start, ts.ContentSpan.Start)})
	}
	if ts.Span.End > ts.ContentSpan.End {
		out = append(out, Token{Type: TypeString,
			Span: position.NewSpan(ts.ContentSpan.End, ts.Span.End)})
	}

	for _, frag := range ts.Fragments {
		if frag.Kind != pyscan.FragmentInterp {
			continue
		}
		if frag.Expr.Start > frag.Span.Start {
			out = append(out, Token{Type: TypeOperator,
				Span: position.NewSpan(frag.Span.Start, frag.Expr.Start)})
		}
		if !frag.Expr.IsEmpty() {
			out = append(out, Token{Type: TypeParameter, Span: frag.Expr})
		}
		if frag.Span.End > frag.Expr.End {
			out = append(out, Token{Type: TypeOperator,
				Span: position.NewSpan(frag.Expr.End, frag.Span.End)})
		}
	}

	for _, et := range res.Tokens {
		base := ts.Fragments[et.Frag].Span.Start
		out = append(out, Token{
			Type: kindType[et.Kind],
			Span: et.Span.Shift(base),
		})
	}

	return out
}

// normalize sorts tokens into document order and drops overlaps, keeping
// the earlier token. The encoder requires a strictly ordered,
// non-overlapping stream.
func normalize(toks []Token) []Token {
	sort.SliceStable(toks, func(i, j int) bool {
		if toks[i].Span.Start != toks[j].Span.Start {
			return toks[i].Span.Start < toks[j].Span.Start
		}
		return toks[i].Span.End > toks[j].Span.End
	})
	out := toks[:0]
	end := 0
	for _, t := range toks {
		if t.Span.IsEmpty() || t.Span.Start < end {
			continue
		}
		out = append(out, t)
		end = t.Span.End
	}
	return out
}

// Encode converts an ordered token stream into the LSP packed uint32
// representation. Multi-line tokens are split per line first, since the
// wire format cannot express them.
func Encode(text string, toks []Token) []uint32 {
	data := make([]uint32, 0, len(toks)*5)
	prevLine, prevChar := 0, 0
	for _, t := range toks {
		ti := typeIndex(t.Type)
		if ti < 0 {
			continue
		}
		for _, ls := range position.LineSpans(text, t.Span) {
			r := position.RangeOf(text, ls)
			deltaLine := r.Start.Line - prevLine
			deltaChar := r.Start.Character
			if deltaLine == 0 {
				deltaChar -= prevChar
			}
			data = append(data,
				uint32(deltaLine),
				uint32(deltaChar),
				uint32(r.End.Character-r.Start.Character),
				uint32(ti),
				uint32(t.Mod),
			)
			prevLine = r.Start.Line
			prevChar = r.Start.Character
		}
	}
	return data
}
