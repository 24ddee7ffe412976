package oracle

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// SourceLexer tokenizes kiln demo-language source. Keywords are matched
// by literal against Ident.
var SourceLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		// Whitespace and comments (elided from output)
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`, Action: nil},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`, Action: nil},
		{Name: "LineComment", Pattern: `//[^\r\n]*`, Action: nil},

		// Multi-character operators before single-char
		{Name: "EqEq", Pattern: `==`},
		{Name: "NotEq", Pattern: `!=`},
		{Name: "LessEq", Pattern: `<=`},
		{Name: "GreaterEq", Pattern: `>=`},

		// Single-character operators and punctuation
		{Name: "Eq", Pattern: `=`},
		{Name: "Less", Pattern: `<`},
		{Name: "Greater", Pattern: `>`},
		{Name: "Plus", Pattern: `\+`},
		{Name: "Minus", Pattern: `-`},
		{Name: "Star", Pattern: `\*`},
		{Name: "Slash", Pattern: `/`},
		{Name: "Comma", Pattern: `,`},
		{Name: "Semicolon", Pattern: `;`},
		{Name: "LParen", Pattern: `\(`},
		{Name: "RParen", Pattern: `\)`},
		{Name: "LBrace", Pattern: `\{`},
		{Name: "RBrace", Pattern: `\}`},

		// Literals
		{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
		{Name: "Float", Pattern: `\d+\.\d+`},
		{Name: "Int", Pattern: `\d+`},

		// Identifiers after numbers to avoid matching leading digits
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	},
})
