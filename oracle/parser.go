package oracle

import (
	"strings"

	"github.com/alecthomas/participle/v2"
)

// Parser parses one top-level declaration.
var Parser = participle.MustBuild[Decl](
	participle.Lexer(SourceLexer),
	participle.Elide("Whitespace", "BlockComment", "LineComment"),
	participle.UseLookahead(4),
	participle.Unquote("String"),
)

// Chunk is one top-level declaration's raw text with its position in
// the file.
type Chunk struct {
	Text      string
	StartLine int // zero-based
	StartCol  int // zero-based
}

// SplitDecls slices source into top-level declaration chunks. A chunk
// ends at a semicolon or closing brace at nesting depth zero. Splitting
// never fails; unterminated trailing text becomes a final chunk so the
// parser can report it.
func SplitDecls(src string) []Chunk {
	var (
		chunks     []Chunk
		depth      int
		start      = -1
		startLine  int
		startCol   int
		line       int
		col        int
		inString   bool
		escaped    bool
		inLineCmt  bool
		inBlockCmt bool
	)

	flush := func(end int) {
		if start < 0 {
			return
		}
		text := src[start:end]
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{Text: text, StartLine: startLine, StartCol: startCol})
		}
		start = -1
	}

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case inLineCmt:
			if c == '\n' {
				inLineCmt = false
			}
		case inBlockCmt:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				inBlockCmt = false
				i++
				col++
			}
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"' || c == '\n':
				inString = false
			}
		default:
			switch c {
			case '/':
				if i+1 < len(src) {
					switch src[i+1] {
					case '/':
						inLineCmt = true
					case '*':
						inBlockCmt = true
					}
				}
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				if depth > 0 {
					depth--
				}
				if depth == 0 {
					flush(i + 1)
				}
			case ';':
				if depth == 0 {
					flush(i + 1)
				}
			}

			if start < 0 && !isSpace(c) && c != ';' && c != '}' {
				start = i
				startLine = line
				startCol = col
			}
		}

		if c == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}

	flush(len(src))

	return chunks
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
