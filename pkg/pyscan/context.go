package pyscan

import (
	"strings"

	"github.com/koxudaxi/t-linter/pkg/position"
)

// parseStatements walks logical lines and fills the module context plus
// the binding map consumed by collectTemplates. Only statement shapes the
// resolver cares about are recognized; everything else is skipped.
func parseStatements(f *File, toks []token) {
	lineStart := 0
	for i := 0; i <= len(toks); i++ {
		if i < len(toks) && toks[i].kind != tokNewline {
			continue
		}
		line := dropComments(toks[lineStart:i])
		if len(line) > 0 {
			parseLine(f, line)
		}
		lineStart = i + 1
	}
}

func dropComments(toks []token) []token {
	out := make([]token, 0, len(toks))
	for _, t := range toks {
		if t.kind != tokComment {
			out = append(out, t)
		}
	}
	return out
}

func parseLine(f *File, line []token) {
	head := f.text(line[0])
	switch {
	case line[0].kind == tokIdent && head == "import":
		parseImport(f, line)
	case line[0].kind == tokIdent && head == "from":
		parseFromImport(f, line)
	case line[0].kind == tokIdent && head == "type" && len(line) >= 4 &&
		line[1].kind == tokIdent && f.isOp(line[2], "="):
		parseTypeAliasStmt(f, line)
	case line[0].kind == tokIdent && head == "def" && len(line) >= 3:
		parseDef(f, line)
	default:
		parseAssignment(f, line)
	}
	// def headers look like calls but their parens hold parameters
	if head != "def" {
		findCalls(f, line)
	}
}

// parseImport handles "import a.b.c as x, d.e".
func parseImport(f *File, line []token) {
	i := 1
	for i < len(line) {
		dotted, next := f.dottedName(line, i)
		if dotted == "" {
			break
		}
		i = next
		local := dotted[strings.LastIndexByte(dotted, '.')+1:]
		if i+1 < len(line) && line[i].kind == tokIdent && f.text(line[i]) == "as" {
			local = f.text(line[i+1])
			i += 2
		}
		f.Context.Imports[local] = dotted
		if i < len(line) && f.isOp(line[i], ",") {
			i++
			continue
		}
		break
	}
}

// parseFromImport handles "from mod import a as b, (c, d)".
func parseFromImport(f *File, line []token) {
	module, i := f.dottedName(line, 1)
	if module == "" || i >= len(line) || f.text(line[i]) != "import" {
		return
	}
	i++
	for i < len(line) {
		if f.isOp(line[i], "(") || f.isOp(line[i], ")") || f.isOp(line[i], ",") {
			i++
			continue
		}
		if line[i].kind != tokIdent {
			break
		}
		name := f.text(line[i])
		local := name
		i++
		if i+1 < len(line) && line[i].kind == tokIdent && f.text(line[i]) == "as" {
			local = f.text(line[i+1])
			i += 2
		}
		f.Context.Imports[local] = module + "." + name
	}
}

// parseTypeAliasStmt handles the PEP 695 form "type Name = RHS".
func parseTypeAliasStmt(f *File, line []token) {
	name := f.text(line[1])
	rhs := strings.TrimSpace(f.Source[line[3].span.Start:line[len(line)-1].span.End])
	f.Context.Aliases[name] = rhs
	f.Context.AliasSpans[name] = lineSpan(line)
}

// parseDef handles "def name(params) -> ret:".
func parseDef(f *File, line []token) {
	if line[1].kind != tokIdent || !f.isOp(line[2], "(") {
		return
	}
	name := f.text(line[1])
	close := matchParen(f, line, 2)
	if close < 0 {
		return
	}
	params := parseParams(f, line[3:close])
	f.Context.Signatures[name] = params
	f.Context.SignatureSpans[name] = lineSpan(line)
}

// parseParams splits a parameter list at top-level commas and captures
// per-parameter annotations. The * and / separators are skipped without
// consuming an index.
func parseParams(f *File, toks []token) []Param {
	var out []Param
	depth := 0
	groupStart := 0
	flush := func(end int) {
		group := toks[groupStart:end]
		// skip leading * / ** markers
		for len(group) > 0 && group[0].kind == tokOp &&
			(f.isOp(group[0], "*") || f.isOp(group[0], "/")) {
			group = group[1:]
		}
		if len(group) == 0 || group[0].kind != tokIdent {
			return
		}
		p := Param{Name: f.text(group[0]), Index: len(out)}
		if len(group) >= 3 && f.isOp(group[1], ":") {
			annEnd := len(group)
			d := 0
			for j := 2; j < len(group); j++ {
				switch {
				case group[j].kind == tokOp && strings.ContainsAny(f.text(group[j]), "([{"):
					d++
				case group[j].kind == tokOp && strings.ContainsAny(f.text(group[j]), ")]}"):
					d--
				case d == 0 && f.isOp(group[j], "="):
					annEnd = j
				}
				if annEnd != len(group) {
					break
				}
			}
			if annEnd > 2 {
				p.Annotation = strings.TrimSpace(f.Source[group[2].span.Start:group[annEnd-1].span.End])
			}
		}
		out = append(out, p)
	}
	for i, t := range toks {
		switch {
		case t.kind == tokOp && strings.ContainsAny(f.text(t), "([{"):
			depth++
		case t.kind == tokOp && strings.ContainsAny(f.text(t), ")]}"):
			depth--
		case depth == 0 && f.isOp(t, ","):
			flush(i)
			groupStart = i + 1
		}
	}
	flush(len(toks))
	return out
}

// parseAssignment recognizes "name = rhs" and "name: ann = rhs" forms,
// recording TypeAlias definitions and template-string bindings.
func parseAssignment(f *File, line []token) {
	if len(line) < 3 || line[0].kind != tokIdent {
		return
	}
	name := f.text(line[0])
	annotation := ""
	rhsStart := -1

	if f.isOp(line[1], "=") {
		rhsStart = 2
	} else if f.isOp(line[1], ":") {
		eq := topLevelEq(f, line, 2)
		if eq < 0 || eq == 2 {
			return
		}
		annotation = strings.TrimSpace(f.Source[line[2].span.Start:line[eq-1].span.End])
		rhsStart = eq + 1
	} else {
		return
	}
	if rhsStart >= len(line) {
		return
	}

	if strings.Contains(annotation, "TypeAlias") {
		rhs := strings.TrimSpace(f.Source[line[rhsStart].span.Start:line[len(line)-1].span.End])
		f.Context.Aliases[name] = trimAliasQuotes(rhs)
		f.Context.AliasSpans[name] = lineSpan(line)
		return
	}

	first := line[rhsStart]
	if first.kind == tokString && strings.Contains(first.prefix, "t") {
		f.bind(first.span.Start, binding{varName: name, annotation: annotation, argIndex: -1})
	}
}

// trimAliasQuotes unwraps "Annotated[...]"-style string forward
// references used in old-style TypeAlias assignments.
func trimAliasQuotes(rhs string) string {
	if len(rhs) >= 2 && (rhs[0] == '"' || rhs[0] == '\'') && rhs[len(rhs)-1] == rhs[0] {
		return rhs[1 : len(rhs)-1]
	}
	return rhs
}

// findCalls locates name(...) call sites and binds template-string
// arguments to their call position. Existing bindings are not overwritten.
func findCalls(f *File, line []token) {
	for i := 0; i+1 < len(line); i++ {
		if line[i].kind != tokIdent || !f.isOp(line[i+1], "(") {
			continue
		}
		if pythonKeywords[f.text(line[i])] {
			continue
		}
		callName := f.text(line[i])
		close := matchParen(f, line, i+1)
		if close < 0 {
			close = len(line)
		}
		bindCallArgs(f, callName, line[i+2:close])
	}
}

func bindCallArgs(f *File, callName string, args []token) {
	depth := 0
	argIndex := 0
	argStart := 0
	handle := func(start, end int) {
		group := args[start:end]
		if len(group) == 0 {
			return
		}
		if group[0].kind == tokString && strings.Contains(group[0].prefix, "t") {
			f.bind(group[0].span.Start, binding{callName: callName, argIndex: argIndex})
			return
		}
		if len(group) >= 3 && group[0].kind == tokIdent && f.isOp(group[1], "=") &&
			group[2].kind == tokString && strings.Contains(group[2].prefix, "t") {
			f.bind(group[2].span.Start, binding{
				callName: callName, argIndex: argIndex, keywordArg: f.text(group[0]),
			})
		}
	}
	for i, t := range args {
		switch {
		case t.kind == tokOp && strings.ContainsAny(f.text(t), "([{"):
			depth++
		case t.kind == tokOp && strings.ContainsAny(f.text(t), ")]}"):
			depth--
		case depth == 0 && f.isOp(t, ","):
			handle(argStart, i)
			argIndex++
			argStart = i + 1
		}
	}
	handle(argStart, len(args))
}

// bind records a binding unless one already exists for the literal.
func (f *File) bind(offset int, b binding) {
	if _, ok := f.bindings[offset]; ok {
		return
	}
	f.bindings[offset] = b
}

func (f *File) text(t token) string {
	return f.Source[t.span.Start:t.span.End]
}

func (f *File) isOp(t token, s string) bool {
	return t.kind == tokOp && f.text(t) == s
}

// dottedName reads "a.b.c" starting at index i. Returns "" when no
// identifier is present.
func (f *File) dottedName(line []token, i int) (string, int) {
	if i >= len(line) || line[i].kind != tokIdent {
		return "", i
	}
	name := f.text(line[i])
	i++
	for i+1 < len(line) && f.isOp(line[i], ".") && line[i+1].kind == tokIdent {
		name += "." + f.text(line[i+1])
		i += 2
	}
	return name, i
}

// matchParen returns the index of the ")" matching the "(" at open, or -1.
func matchParen(f *File, line []token, open int) int {
	depth := 0
	for i := open; i < len(line); i++ {
		switch {
		case f.isOp(line[i], "("):
			depth++
		case f.isOp(line[i], ")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func topLevelEq(f *File, line []token, from int) int {
	depth := 0
	for i := from; i < len(line); i++ {
		t := line[i]
		switch {
		case t.kind == tokOp && strings.ContainsAny(f.text(t), "([{"):
			depth++
		case t.kind == tokOp && strings.ContainsAny(f.text(t), ")]}"):
			depth--
		case depth == 0 && f.isOp(t, "="):
			// skip comparison and augmented forms
			if i > from && line[i-1].span.End == t.span.Start {
				prev := f.text(line[i-1])
				if prev == "=" || prev == "!" || prev == "<" || prev == ">" {
					continue
				}
			}
			if i+1 < len(line) && f.isOp(line[i+1], "=") && line[i+1].span.Start == t.span.End {
				continue
			}
			return i
		}
	}
	return -1
}

func lineSpan(line []token) position.Span {
	return position.NewSpan(line[0].span.Start, line[len(line)-1].span.End)
}
