package pyscan

import (
	"strings"

	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/position"
)

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokComment
	tokNewline
)

type token struct {
	kind tokKind
	span position.Span

	// string-literal detail
	prefix      string
	contentSpan position.Span
	triple      bool
	terminated  bool
}

var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true,
	"class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true,
	"for": true, "from": true, "global": true, "if": true, "import": true,
	"in": true, "is": true, "lambda": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"type": true, "while": true, "with": true, "yield": true,
	"match": true, "case": true,
}

// scanner walks the source byte by byte. Logical newlines are only
// emitted at bracket depth zero, so parenthesized statements arrive as
// one logical line.
type scanner struct {
	src   string
	pos   int
	depth int

	toks  []token
	diags []diagnostic.Diagnostic
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			if s.depth == 0 {
				s.toks = append(s.toks, token{kind: tokNewline, span: position.NewSpan(s.pos, s.pos+1)})
			}
			s.pos++
		case c == ' ' || c == '\t' || c == '\r':
			s.pos++
		case c == '\\' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '\n':
			// explicit line continuation
			s.pos += 2
		case c == '#':
			s.scanComment()
		case c == '\'' || c == '"':
			s.scanString(s.pos, "")
		case isIdentStart(c):
			s.scanIdent()
		case c >= '0' && c <= '9':
			s.scanNumber()
		default:
			s.scanOp()
		}
	}
}

func (s *scanner) scanComment() {
	start := s.pos
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
	s.toks = append(s.toks, token{kind: tokComment, span: position.NewSpan(start, s.pos)})
}

func (s *scanner) scanIdent() {
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	word := s.src[start:s.pos]
	if s.pos < len(s.src) && (s.src[s.pos] == '\'' || s.src[s.pos] == '"') && isStringPrefix(word) {
		s.scanString(start, word)
		return
	}
	s.toks = append(s.toks, token{kind: tokIdent, span: position.NewSpan(start, s.pos)})
}

func isStringPrefix(word string) bool {
	if len(word) == 0 || len(word) > 3 {
		return false
	}
	for i := 0; i < len(word); i++ {
		switch word[i] {
		case 'r', 'R', 'b', 'B', 'u', 'U', 'f', 'F', 't', 'T':
		default:
			return false
		}
	}
	return true
}

// scanString consumes a string literal starting at the opening quote
// (s.pos), with the prefix already consumed. start is the offset of the
// prefix, or of the quote when there is none.
func (s *scanner) scanString(start int, prefix string) {
	quote := s.src[s.pos]
	triple := s.pos+2 < len(s.src) && s.src[s.pos+1] == quote && s.src[s.pos+2] == quote
	openLen := 1
	if triple {
		openLen = 3
	}
	s.pos += openLen
	contentStart := s.pos

	terminated := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\\' && s.pos+1 < len(s.src) {
			s.pos += 2
			continue
		}
		if !triple && c == '\n' {
			break
		}
		if c == quote {
			if !triple {
				terminated = true
				break
			}
			if s.pos+2 < len(s.src) && s.src[s.pos+1] == quote && s.src[s.pos+2] == quote {
				terminated = true
				break
			}
			// lone quote inside a triple-quoted string
		}
		s.pos++
	}

	contentEnd := s.pos
	if terminated {
		s.pos += openLen
	} else {
		s.diags = append(s.diags, diagnostic.New(
			position.NewSpan(start, contentEnd),
			diagnostic.Error, diagnostic.StagePython,
			"unterminated string literal"))
	}

	s.toks = append(s.toks, token{
		kind:        tokString,
		span:        position.NewSpan(start, s.pos),
		prefix:      strings.ToLower(prefix),
		contentSpan: position.NewSpan(contentStart, contentEnd),
		triple:      triple,
		terminated:  terminated,
	})
}

func (s *scanner) scanNumber() {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '_' || c == 'x' || c == 'X' ||
			c == 'o' || c == 'O' || c == 'e' || c == 'E' || c == 'j' || c == 'J' ||
			(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			s.pos++
			continue
		}
		break
	}
	s.toks = append(s.toks, token{kind: tokNumber, span: position.NewSpan(start, s.pos)})
}

func (s *scanner) scanOp() {
	c := s.src[s.pos]
	switch c {
	case '(', '[', '{':
		s.depth++
	case ')', ']', '}':
		if s.depth > 0 {
			s.depth--
		}
	}
	s.toks = append(s.toks, token{kind: tokOp, span: position.NewSpan(s.pos, s.pos+1)})
	s.pos++
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Scan parses one Python source file.
func Scan(path, src string) *File {
	sc := &scanner{src: src}
	sc.run()

	f := &File{
		Path:        path,
		Source:      src,
		Context:     newModuleContext(),
		Diagnostics: sc.diags,
		bindings:    map[int]binding{},
	}
	parseStatements(f, sc.toks)
	collectTemplates(f, sc.toks)
	collectRawTokens(f, sc.toks)
	return f
}

func collectRawTokens(f *File, toks []token) {
	for i, t := range toks {
		switch t.kind {
		case tokIdent:
			if pythonKeywords[f.Source[t.span.Start:t.span.End]] {
				f.RawTokens = append(f.RawTokens, RawToken{Kind: RawKeyword, Span: t.span})
			}
		case tokNumber:
			f.RawTokens = append(f.RawTokens, RawToken{Kind: RawNumber, Span: t.span})
		case tokComment:
			f.RawTokens = append(f.RawTokens, RawToken{Kind: RawComment, Span: t.span})
		case tokString:
			if !strings.Contains(t.prefix, "t") {
				f.RawTokens = append(f.RawTokens, RawToken{Kind: RawString, Span: t.span})
			}
		case tokOp:
			if f.Source[t.span.Start] == '@' && i+1 < len(toks) && toks[i+1].kind == tokIdent {
				f.RawTokens = append(f.RawTokens, RawToken{Kind: RawDecorator,
					Span: position.NewSpan(t.span.Start, toks[i+1].span.End)})
			}
		}
	}
}
