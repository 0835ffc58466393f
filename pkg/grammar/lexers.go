package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/koxudaxi/t-linter/pkg/langtag"
)

// Kind is a coarse embedded-token class. The semantic-token layer maps
// kinds onto the wire legend.
type Kind string

const (
	KindKeyword   Kind = "keyword"
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindComment   Kind = "comment"
	KindOperator  Kind = "operator"
	KindTag       Kind = "tag"
	KindAttribute Kind = "attribute"
	KindProperty  Kind = "property"
	KindVariable  Kind = "variable"
	KindPunct     Kind = "punct"
)

// langDef bundles a stateful lexer with the mapping from its rule names
// to token kinds. Rule names absent from kinds produce no token.
type langDef struct {
	lex   *lexer.StatefulDefinition
	kinds map[string]Kind
}

var htmlDef = langDef{
	lex: lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "Comment", Pattern: `(?s)<!--.*?-->`},
			{Name: "Doctype", Pattern: `(?i)<!DOCTYPE[^>]*>`},
			{Name: "TagOpen", Pattern: `</?[a-zA-Z][a-zA-Z0-9-]*`, Action: lexer.Push("Tag")},
			{Name: "Entity", Pattern: `&#?[a-zA-Z0-9]+;`},
			{Name: "Text", Pattern: `[^<&]+`},
			{Name: "Stray", Pattern: `[<&]`},
		},
		"Tag": {
			{Name: "TagClose", Pattern: `/?>`, Action: lexer.Pop()},
			{Name: "AttrName", Pattern: `[a-zA-Z_:][a-zA-Z0-9_:.-]*`},
			{Name: "Eq", Pattern: `=`},
			{Name: "AttrValue", Pattern: `"[^"]*"|'[^']*'|[^\s>]+`},
			{Name: "TagWS", Pattern: `\s+`},
		},
	}),
	kinds: map[string]Kind{
		"Comment":   KindComment,
		"Doctype":   KindKeyword,
		"TagOpen":   KindTag,
		"TagClose":  KindTag,
		"Entity":    KindKeyword,
		"AttrName":  KindAttribute,
		"Eq":        KindOperator,
		"AttrValue": KindString,
	},
}

var cssDef = langDef{
	lex: lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "Comment", Pattern: `(?s)/\*.*?\*/`},
			{Name: "String", Pattern: `"[^"]*"|'[^']*'`},
			{Name: "AtKeyword", Pattern: `@[a-zA-Z-]+`},
			{Name: "Hash", Pattern: `#[0-9a-fA-F]{3,8}\b`},
			{Name: "Number", Pattern: `-?\d+(?:\.\d+)?[a-zA-Z%]*`},
			{Name: "Important", Pattern: `![a-zA-Z]+`},
			{Name: "Ident", Pattern: `-?[a-zA-Z_][a-zA-Z0-9_-]*`},
			{Name: "Punct", Pattern: `[{}()\[\];:,.>~+*=#]`},
			{Name: "CSSWS", Pattern: `\s+`},
		},
	}),
	kinds: map[string]Kind{
		"Comment":   KindComment,
		"String":    KindString,
		"AtKeyword": KindKeyword,
		"Hash":      KindNumber,
		"Number":    KindNumber,
		"Important": KindKeyword,
		"Ident":     KindProperty,
		"Punct":     KindPunct,
	},
}

var jsDef = langDef{
	lex: lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "LineComment", Pattern: `//[^\n]*`},
			{Name: "BlockComment", Pattern: `(?s)/\*.*?\*/`},
			{Name: "String", Pattern: "\"(?:\\\\.|[^\"\\\\])*\"|'(?:\\\\.|[^'\\\\])*'|`(?:\\\\.|[^`\\\\])*`"},
			{Name: "Keyword", Pattern: `\b(?:const|let|var|function|return|if|else|for|while|do|new|class|extends|super|this|import|export|default|from|try|catch|finally|throw|typeof|instanceof|in|of|async|await|yield|switch|case|break|continue|delete|void|null|true|false|undefined)\b`},
			{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|\d[\d_]*(?:\.\d+)?(?:[eE][+-]?\d+)?`},
			{Name: "Ident", Pattern: `[$A-Za-z_][$A-Za-z0-9_]*`},
			{Name: "Operator", Pattern: `[+\-*/%=<>!&|^~?]+`},
			{Name: "Punct", Pattern: `[{}()\[\];,.:]`},
			{Name: "JSWS", Pattern: `\s+`},
		},
	}),
	kinds: map[string]Kind{
		"LineComment":  KindComment,
		"BlockComment": KindComment,
		"String":       KindString,
		"Keyword":      KindKeyword,
		"Number":       KindNumber,
		"Ident":        KindVariable,
		"Operator":     KindOperator,
		"Punct":        KindPunct,
	},
}

var jsonDef = langDef{
	lex: lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
			{Name: "Keyword", Pattern: `\b(?:true|false|null)\b`},
			{Name: "Number", Pattern: `-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`},
			{Name: "Punct", Pattern: `[{}\[\]:,]`},
			{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
			{Name: "JSONWS", Pattern: `\s+`},
		},
	}),
	kinds: map[string]Kind{
		"String":  KindString,
		"Keyword": KindKeyword,
		"Number":  KindNumber,
		"Punct":   KindPunct,
		"Ident":   KindVariable,
	},
}

var sqlDef = langDef{
	lex: lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "LineComment", Pattern: `--[^\n]*`},
			{Name: "BlockComment", Pattern: `(?s)/\*.*?\*/`},
			{Name: "String", Pattern: `'(?:''|[^'])*'`},
			{Name: "QuotedIdent", Pattern: `"[^"]*"`},
			{Name: "Keyword", Pattern: `(?i)\b(?:select|from|where|insert|into|values|update|set|delete|join|left|right|inner|outer|cross|on|group|by|order|having|limit|offset|as|and|or|not|null|is|in|like|ilike|between|case|when|then|else|end|union|all|distinct|create|table|view|primary|key|foreign|references|drop|alter|add|column|index|exists|asc|desc|with|returning|using|constraint|unique|default|cascade)\b`},
			{Name: "Placeholder", Pattern: `\?|%s|%\(\w+\)s|:\w+|\$\d+`},
			{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
			{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
			{Name: "Operator", Pattern: `[+\-*/%=<>!|]+`},
			{Name: "Punct", Pattern: `[(),;.\[\]]`},
			{Name: "SQLWS", Pattern: `\s+`},
		},
	}),
	kinds: map[string]Kind{
		"LineComment":  KindComment,
		"BlockComment": KindComment,
		"String":       KindString,
		"QuotedIdent":  KindVariable,
		"Keyword":      KindKeyword,
		"Placeholder":  KindVariable,
		"Number":       KindNumber,
		"Ident":        KindVariable,
		"Operator":     KindOperator,
		"Punct":        KindPunct,
	},
}

// defFor returns the lexer definition for a highlightable tag.
func defFor(tag langtag.Tag) (langDef, bool) {
	switch tag {
	case langtag.HTML:
		return htmlDef, true
	case langtag.CSS:
		return cssDef, true
	case langtag.JavaScript:
		return jsDef, true
	case langtag.JSON:
		return jsonDef, true
	case langtag.SQL:
		return sqlDef, true
	}
	return langDef{}, false
}
