// Package grammar lexes the embedded-language content of a template
// string. Interpolation holes are replaced by a neutral placeholder
// before lexing, and every token is mapped back to fragment-local
// offsets so results stay valid when the template moves in the document.
package grammar

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
)

// placeholder substitutes interpolation holes in the synthetic text. It
// lexes as a plain identifier in every registered grammar.
const placeholder = "__tpl"

// Token is one embedded token, addressed by fragment index and a
// fragment-local byte span.
type Token struct {
	Frag int
	Span position.Span
	Kind Kind
}

// Finding is an embedded-grammar diagnostic in fragment-local coordinates.
type Finding struct {
	Frag     int
	Span     position.Span
	Severity diagnostic.Severity
	Message  string
}

// Result is the embedded analysis of one template string. All offsets are
// fragment-local, so a Result survives document edits that merely move
// the template.
type Result struct {
	Tag      langtag.Tag
	Tokens   []Token
	Findings []Finding

	// Degraded is set when the lexer could not process the full content
	// and tokens cover only a prefix.
	Degraded bool
}

// segment maps a byte range of the synthetic text back to a literal
// fragment.
type segment struct {
	synStart, synEnd int
	frag             int
}

// Parse lexes the template's literal fragments as tag content.
// Non-highlightable tags (including Unknown) produce an empty opaque
// result, never an error.
func Parse(tag langtag.Tag, fragments []pyscan.Fragment, src string) (*Result, error) {
	res := &Result{Tag: tag}
	def, ok := defFor(tag)
	if !ok {
		return res, nil
	}

	var sb strings.Builder
	var segs []segment
	for i, f := range fragments {
		if f.Kind == pyscan.FragmentInterp {
			sb.WriteString(placeholder)
			continue
		}
		segs = append(segs, segment{
			synStart: sb.Len(),
			synEnd:   sb.Len() + f.Span.Len(),
			frag:     i,
		})
		sb.WriteString(src[f.Span.Start:f.Span.End])
	}
	synthetic := sb.String()

	lx, err := def.lex.LexString("", synthetic)
	if err != nil {
		return nil, errors.Errorf("creating %s lexer: %w", tag, err)
	}

	toks, lexErr := lexer.ConsumeAll(lx)
	for _, t := range toks {
		if t.EOF() {
			continue
		}
		name := nameOf(def.lex, t.Type)
		kind, keep := def.kinds[name]
		if !keep {
			continue
		}
		start := t.Pos.Offset
		end := start + len(t.Value)
		emit(res, segs, start, end, kind)
	}

	if lexErr != nil {
		res.Degraded = true
		frag, local := locate(segs, fragments, errOffset(lexErr, len(synthetic)))
		res.Findings = append(res.Findings, Finding{
			Frag:     frag,
			Span:     position.NewSpan(local, local),
			Severity: diagnostic.Warning,
			Message:  "could not fully analyze embedded " + string(tag) + " content",
		})
	}

	checkBalance(res, segs, fragments, synthetic, tag)
	return res, nil
}

// emit clips a synthetic token to the literal segments it overlaps and
// appends the fragment-local pieces.
func emit(res *Result, segs []segment, start, end int, kind Kind) {
	for _, s := range segs {
		if end <= s.synStart || start >= s.synEnd {
			continue
		}
		lo := max(start, s.synStart)
		hi := min(end, s.synEnd)
		res.Tokens = append(res.Tokens, Token{
			Frag: s.frag,
			Span: position.NewSpan(lo-s.synStart, hi-s.synStart),
			Kind: kind,
		})
	}
}

// locate maps a synthetic offset to (fragment index, fragment-local
// offset). Offsets inside a placeholder resolve to the interpolation that
// replaced it, at local offset zero.
func locate(segs []segment, fragments []pyscan.Fragment, off int) (int, int) {
	for _, s := range segs {
		if off >= s.synStart && off < s.synEnd {
			return s.frag, off - s.synStart
		}
	}
	// between segments: attribute to the nearest following fragment
	for _, s := range segs {
		if off < s.synStart {
			return s.frag, 0
		}
	}
	if n := len(fragments); n > 0 {
		return n - 1, fragments[n-1].Span.Len()
	}
	return 0, 0
}

func errOffset(err error, fallback int) int {
	var perr interface{ Position() lexer.Position }
	if errors.As(err, &perr) {
		return perr.Position().Offset
	}
	return fallback
}

// checkBalance reports unbalanced bracket pairs in the embedded content.
// Brackets inside strings and comments were already consumed as single
// tokens, so a plain count over the remaining text is enough.
func checkBalance(res *Result, segs []segment, fragments []pyscan.Fragment, synthetic string, tag langtag.Tag) {
	if tag == langtag.HTML {
		return
	}
	pairs := [...][2]byte{{'(', ')'}, {'[', ']'}, {'{', '}'}}
	counts := map[byte]int{}
	stripped := stripTokens(res, synthetic, segs)
	for i := 0; i < len(stripped); i++ {
		counts[stripped[i]]++
	}
	for _, p := range pairs {
		if counts[p[0]] != counts[p[1]] {
			frag, local := lastLiteral(fragments)
			res.Findings = append(res.Findings, Finding{
				Frag:     frag,
				Span:     position.NewSpan(0, local),
				Severity: diagnostic.Warning,
				Message:  "unbalanced '" + string(p[0]) + string(p[1]) + "' in embedded " + string(tag) + " content",
			})
		}
	}
}

// stripTokens returns the synthetic text with string and comment token
// ranges blanked, so bracket counting ignores them.
func stripTokens(res *Result, synthetic string, segs []segment) []byte {
	out := []byte(synthetic)
	for _, t := range res.Tokens {
		if t.Kind != KindString && t.Kind != KindComment {
			continue
		}
		var base segment
		for _, s := range segs {
			if s.frag == t.Frag {
				base = s
				break
			}
		}
		for i := base.synStart + t.Span.Start; i < base.synStart+t.Span.End && i < len(out); i++ {
			out[i] = ' '
		}
	}
	return out
}

func lastLiteral(fragments []pyscan.Fragment) (int, int) {
	for i := len(fragments) - 1; i >= 0; i-- {
		if fragments[i].Kind == pyscan.FragmentLiteral {
			return i, fragments[i].Span.Len()
		}
	}
	return 0, 0
}

func nameOf(def *lexer.StatefulDefinition, t lexer.TokenType) string {
	for name, typ := range def.Symbols() {
		if typ == t {
			return name
		}
	}
	return ""
}
