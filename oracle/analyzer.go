package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/kilnlsp/kiln"
)

// builtinTypes are always-resolvable type names.
var builtinTypes = map[string]struct{}{
	"int":    {},
	"float":  {},
	"string": {},
	"bool":   {},
	"void":   {},
}

// Analyzer is the in-process reference oracle for the kiln demo
// language. It is stateless and safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates the reference oracle.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze parses content declaration by declaration. A broken
// declaration contributes a diagnostic and is skipped; the rest of the
// file still produces symbols, so parsing under active edits is
// non-fatal. Cancellation is polled every CheckpointEvery declarations.
func (a *Analyzer) Analyze(ctx context.Context, path string, content []byte, opts Options) (*FileAnalysis, error) {
	fa := &FileAnalysis{
		Path:        path,
		Diagnostics: []kiln.Diagnostic{},
	}

	cadence := opts.CheckpointEvery
	if cadence < 1 {
		cadence = 1
	}

	chunks := SplitDecls(string(content))
	for i, chunk := range chunks {
		if i%cadence == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", kiln.ErrCancelled, err)
			}
			if opts.Checkpoint != nil {
				if err := opts.Checkpoint(); err != nil {
					return nil, err
				}
			}
		}

		fa.Decls++

		decl, err := Parser.ParseString(path, chunk.Text)
		if err != nil {
			fa.Diagnostics = append(fa.Diagnostics, parseDiagnostic(chunk, err))
			continue
		}

		collectDecl(fa, chunk, decl)
	}

	checkSemantics(fa, opts.Externals)

	return fa, nil
}

// parseDiagnostic converts a participle error into a diagnostic at the
// broken declaration.
func parseDiagnostic(chunk Chunk, err error) kiln.Diagnostic {
	span := kiln.Span{
		Start: kiln.Position{Line: chunk.StartLine, Column: chunk.StartCol},
		End:   chunkEnd(chunk),
	}

	var perr participle.Error
	if ok := asParticipleError(err, &perr); ok {
		start := absPosition(chunk, perr.Position())
		span.Start = start
		if span.End.Line < start.Line ||
			(span.End.Line == start.Line && span.End.Column <= start.Column) {
			span.End = kiln.Position{Line: start.Line, Column: start.Column + 1}
		}
	}

	return kiln.Diagnostic{
		Span:     span,
		Severity: kiln.SeverityError,
		Code:     "parse",
		Source:   "kiln",
		Message:  strings.TrimSpace(err.Error()),
	}
}

func asParticipleError(err error, target *participle.Error) bool {
	for err != nil {
		if pe, ok := err.(participle.Error); ok {
			*target = pe

			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}

	return false
}

// collectDecl records the symbols, imports, and references of one
// parsed declaration.
func collectDecl(fa *FileAnalysis, chunk Chunk, decl *Decl) {
	declSpan := kiln.Span{
		Start: kiln.Position{Line: chunk.StartLine, Column: chunk.StartCol},
		End:   chunkEnd(chunk),
	}

	switch {
	case decl.Import != nil:
		fa.Imports = append(fa.Imports, Import{
			Path: decl.Import.Path,
			Span: declSpan,
		})

	case decl.Var != nil:
		fa.Symbols = append(fa.Symbols, varSymbol(chunk, decl.Var, declSpan, ""))
		collectExpr(fa, chunk, decl.Var.Value)

	case decl.Class != nil:
		c := decl.Class
		fa.Symbols = append(fa.Symbols, Symbol{
			Name:     c.Name,
			Kind:     KindClass,
			Type:     c.Name,
			Detail:   "class " + c.Name,
			Span:     declSpan,
			NameSpan: nameSpan(chunk, c.Pos.Offset, c.Name),
		})
		for _, f := range c.Fields {
			fa.Symbols = append(fa.Symbols, Symbol{
				Name:      f.Name,
				Kind:      KindField,
				Type:      f.Type,
				Detail:    f.Type + " " + f.Name,
				Span:      spanFrom(chunk, f.Pos, len(f.Type)+1+len(f.Name)),
				NameSpan:  nameSpan(chunk, f.Pos.Offset, f.Name),
				Container: c.Name,
			})
		}

	case decl.Fn != nil:
		fn := decl.Fn
		fa.Symbols = append(fa.Symbols, Symbol{
			Name:     fn.Name,
			Kind:     KindFn,
			Detail:   fnSignature(fn),
			Span:     declSpan,
			NameSpan: nameSpan(chunk, fn.Pos.Offset, fn.Name),
		})
		for _, p := range fn.Params {
			fa.Symbols = append(fa.Symbols, Symbol{
				Name:      p.Name,
				Kind:      KindParam,
				Type:      p.Type,
				Detail:    p.Type + " " + p.Name,
				Span:      spanFrom(chunk, p.Pos, len(p.Type)+1+len(p.Name)),
				NameSpan:  nameSpan(chunk, p.Pos.Offset, p.Name),
				Container: fn.Name,
			})
		}
		if fn.Body != nil {
			for _, st := range fn.Body.Stmts {
				collectStmt(fa, chunk, fn.Name, st)
			}
		}
	}
}

func collectStmt(fa *FileAnalysis, chunk Chunk, container string, st *Stmt) {
	switch {
	case st.Return != nil:
		collectExpr(fa, chunk, st.Return.Value)
	case st.Var != nil:
		fa.Symbols = append(fa.Symbols, varSymbol(chunk, st.Var, spanFrom(chunk, st.Var.Pos, len(st.Var.Type)+1+len(st.Var.Name)), container))
		collectExpr(fa, chunk, st.Var.Value)
	case st.Expr != nil:
		collectExpr(fa, chunk, st.Expr.Value)
	}
}

func collectExpr(fa *FileAnalysis, chunk Chunk, e *Expr) {
	if e == nil {
		return
	}

	collectTerm(fa, chunk, e.Left)
	for _, op := range e.Right {
		collectTerm(fa, chunk, op.Term)
	}
}

func collectTerm(fa *FileAnalysis, chunk Chunk, t *Term) {
	switch {
	case t == nil:
	case t.Ident != nil:
		fa.Refs = append(fa.Refs, Reference{
			Name: *t.Ident,
			Span: spanFrom(chunk, t.Pos, len(*t.Ident)),
		})
	case t.Call != nil:
		fa.Refs = append(fa.Refs, Reference{
			Name: t.Call.Name,
			Span: spanFrom(chunk, t.Call.Pos, len(t.Call.Name)),
		})
		for _, arg := range t.Call.Args {
			collectExpr(fa, chunk, arg)
		}
	case t.Sub != nil:
		collectExpr(fa, chunk, t.Sub)
	}
}

func varSymbol(chunk Chunk, v *VarDecl, span kiln.Span, container string) Symbol {
	detail := v.Type + " " + v.Name
	if v.Value != nil {
		if lit := v.Value.Left.TypeName(); lit != "" && lit != v.Type {
			detail += " (initialized from " + lit + ")"
		}
	}

	return Symbol{
		Name:      v.Name,
		Kind:      KindVar,
		Type:      v.Type,
		Detail:    detail,
		Span:      span,
		NameSpan:  nameSpan(chunk, v.Pos.Offset, v.Name),
		Container: container,
	}
}

// checkSemantics flags duplicate top-level declarations, unknown type
// names, and unresolved identifier uses.
func checkSemantics(fa *FileAnalysis, externals map[string]struct{}) {
	declared := make(map[string]struct{}, len(fa.Symbols))
	topLevel := make(map[string]struct{})

	for _, sym := range fa.Symbols {
		declared[sym.Name] = struct{}{}

		if sym.Container != "" || sym.Kind == KindParam {
			continue
		}
		if _, dup := topLevel[sym.Name]; dup {
			fa.Diagnostics = append(fa.Diagnostics, kiln.Diagnostic{
				Span:     sym.NameSpan,
				Severity: kiln.SeverityError,
				Code:     "duplicate",
				Source:   "kiln",
				Message:  fmt.Sprintf("duplicate declaration of %q", sym.Name),
			})
		}
		topLevel[sym.Name] = struct{}{}
	}

	classNames := make(map[string]struct{})
	for _, sym := range fa.Symbols {
		if sym.Kind == KindClass {
			classNames[sym.Name] = struct{}{}
		}
	}

	for _, sym := range fa.Symbols {
		if sym.Type == "" {
			continue
		}
		if _, ok := builtinTypes[sym.Type]; ok {
			continue
		}
		if _, ok := classNames[sym.Type]; ok {
			continue
		}
		if _, ok := externals[sym.Type]; ok {
			continue
		}
		fa.Diagnostics = append(fa.Diagnostics, kiln.Diagnostic{
			Span:     sym.NameSpan,
			Severity: kiln.SeverityWarning,
			Code:     "unknown-type",
			Source:   "kiln",
			Message:  fmt.Sprintf("unknown type %q", sym.Type),
		})
	}

	for _, ref := range fa.Refs {
		if _, ok := declared[ref.Name]; ok {
			continue
		}
		if _, ok := externals[ref.Name]; ok {
			continue
		}
		fa.Diagnostics = append(fa.Diagnostics, kiln.Diagnostic{
			Span:     ref.Span,
			Severity: kiln.SeverityWarning,
			Code:     "unresolved",
			Source:   "kiln",
			Message:  fmt.Sprintf("unresolved identifier %q", ref.Name),
		})
	}
}

func fnSignature(fn *FnDecl) string {
	parts := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		parts[i] = p.Type + " " + p.Name
	}

	return "fn " + fn.Name + "(" + strings.Join(parts, ", ") + ")"
}

// posAt converts a byte offset inside the chunk's text to an absolute
// zero-based position.
func posAt(chunk Chunk, offset int) kiln.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(chunk.Text) {
		offset = len(chunk.Text)
	}

	line := chunk.StartLine
	col := chunk.StartCol
	for i := 0; i < offset; i++ {
		if chunk.Text[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}

	return kiln.Position{Line: line, Column: col}
}

// absPosition converts a chunk-relative lexer position to an absolute
// zero-based position.
func absPosition(chunk Chunk, pos lexer.Position) kiln.Position {
	return posAt(chunk, pos.Offset)
}

// spanFrom builds a span of length n starting at a chunk-relative
// position.
func spanFrom(chunk Chunk, pos lexer.Position, n int) kiln.Span {
	start := absPosition(chunk, pos)

	return kiln.Span{
		Start: start,
		End:   kiln.Position{Line: start.Line, Column: start.Column + n},
	}
}

// nameSpan locates the declared identifier by word search in the chunk
// text, starting at the declaration's offset.
func nameSpan(chunk Chunk, fromOffset int, name string) kiln.Span {
	text := chunk.Text
	for at := fromOffset; at < len(text); {
		idx := strings.Index(text[at:], name)
		if idx < 0 {
			break
		}
		idx += at

		beforeOK := idx == 0 || !isWordByte(text[idx-1])
		end := idx + len(name)
		afterOK := end >= len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			start := posAt(chunk, idx)

			return kiln.Span{
				Start: start,
				End:   kiln.Position{Line: start.Line, Column: start.Column + len(name)},
			}
		}
		at = idx + 1
	}

	start := posAt(chunk, fromOffset)

	return kiln.Span{
		Start: start,
		End:   kiln.Position{Line: start.Line, Column: start.Column + len(name)},
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// chunkEnd computes the absolute position just past the chunk's text.
func chunkEnd(chunk Chunk) kiln.Position {
	line := chunk.StartLine
	col := chunk.StartCol

	for i := 0; i < len(chunk.Text); i++ {
		if chunk.Text[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}

	return kiln.Position{Line: line, Column: col}
}
