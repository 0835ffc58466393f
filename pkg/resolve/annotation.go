package resolve

import (
	"strings"

	"github.com/koxudaxi/t-linter/pkg/pyscan"
)

type annKind int

const (
	// annNone: the annotation carries no template language information.
	annNone annKind = iota
	// annTag: Annotated[Template, "tag"] with an explicit tag string.
	annTag
	// annBareTemplate: Template with no language argument.
	annBareTemplate
	// annName: a simple name, candidate type alias or imported symbol.
	annName
)

// wrappers whose first type argument carries the interesting annotation.
var transparentWrappers = map[string]bool{
	"Optional": true,
	"Final":    true,
}

// parseAnnotation classifies raw annotation text. Import aliases for
// Annotated and Template are honored through the module context.
func parseAnnotation(ctx *pyscan.ModuleContext, ann string) (kind annKind, tagText, name string) {
	s := unquote(strings.TrimSpace(ann))
	s = strings.TrimPrefix(s, "typing.")

	bracket := strings.IndexByte(s, '[')
	if bracket < 0 {
		if s == "" || !isIdentifier(s) {
			return annNone, "", ""
		}
		if isTemplateName(ctx, s) {
			return annBareTemplate, "", ""
		}
		return annName, "", s
	}

	if !strings.HasSuffix(s, "]") {
		return annNone, "", ""
	}
	head := strings.TrimSpace(s[:bracket])
	args := splitTopLevel(s[bracket+1 : len(s)-1])

	if transparentWrappers[strings.TrimPrefix(head, "typing.")] && len(args) > 0 {
		return parseAnnotation(ctx, args[0])
	}

	if !isAnnotatedName(ctx, head) || len(args) < 2 {
		return annNone, "", ""
	}
	if !isTemplateName(ctx, strings.TrimSpace(args[0])) {
		return annNone, "", ""
	}
	tag, ok := stringLiteral(args[1])
	if !ok {
		return annNone, "", ""
	}
	return annTag, tag, ""
}

func isAnnotatedName(ctx *pyscan.ModuleContext, s string) bool {
	s = strings.TrimPrefix(s, "typing.")
	return s == "Annotated" || ctx.ImportedAs(s, "typing.Annotated")
}

func isTemplateName(ctx *pyscan.ModuleContext, s string) bool {
	s = unquote(s)
	if s == "Template" || strings.HasSuffix(s, ".Template") {
		return true
	}
	return ctx.ImportedAs(s, "string.templatelib.Template")
}

// splitTopLevel splits on commas outside brackets and quotes.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case '\'', '"':
			q := s[i]
			for i++; i < len(s) && s[i] != q; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

func stringLiteral(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func unquote(s string) string {
	if v, ok := stringLiteral(s); ok {
		return v
	}
	return s
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
