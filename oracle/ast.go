package oracle

import "github.com/alecthomas/participle/v2/lexer"

// ----------------------------------------------------------------------------
// Demo language AST
//
// The reference oracle analyzes a small C-like declaration language:
//
//	import "lib";
//	int a = 1;
//	class C { int y; }
//	fn add(int x, int y) { return x + y; }
//
// Each top-level declaration parses independently, so one broken
// declaration never poisons the rest of the file.
// ----------------------------------------------------------------------------

// Decl is one top-level declaration.
type Decl struct {
	Pos    lexer.Position
	Import *ImportDecl `parser:"  @@"`
	Class  *ClassDecl  `parser:"| @@"`
	Fn     *FnDecl     `parser:"| @@"`
	Var    *VarDecl    `parser:"| @@"`
}

// ImportDecl brings another file's declarations into scope.
type ImportDecl struct {
	Pos  lexer.Position
	Path string "parser:\"\\\"import\\\" @String Semicolon\""
}

// VarDecl declares a typed variable with an optional initializer.
type VarDecl struct {
	Pos   lexer.Position
	Type  string `parser:"@Ident"`
	Name  string `parser:"@Ident"`
	Value *Expr  `parser:"(Eq @@)? Semicolon"`
}

// ClassDecl declares a class with field members.
type ClassDecl struct {
	Pos    lexer.Position
	Name   string   "parser:\"\\\"class\\\" @Ident LBrace\""
	Fields []*Field `parser:"@@* RBrace"`
}

// Field is one class member.
type Field struct {
	Pos  lexer.Position
	Type string `parser:"@Ident"`
	Name string `parser:"@Ident Semicolon"`
}

// FnDecl declares a function.
type FnDecl struct {
	Pos    lexer.Position
	Name   string   "parser:\"\\\"fn\\\" @Ident LParen\""
	Params []*Param `parser:"(@@ (Comma @@)*)? RParen"`
	Body   *Block   `parser:"@@"`
}

// Param is one function parameter.
type Param struct {
	Pos  lexer.Position
	Type string `parser:"@Ident"`
	Name string `parser:"@Ident"`
}

// Block is a braced statement list.
type Block struct {
	Pos   lexer.Position
	Stmts []*Stmt `parser:"LBrace @@* RBrace"`
}

// Stmt is a statement inside a function body.
type Stmt struct {
	Pos    lexer.Position
	Return *ReturnStmt `parser:"  @@"`
	Var    *VarDecl    `parser:"| @@"`
	Expr   *ExprStmt   `parser:"| @@"`
}

// ReturnStmt returns an expression from a function.
type ReturnStmt struct {
	Pos   lexer.Position
	Value *Expr "parser:\"\\\"return\\\" @@? Semicolon\""
}

// ExprStmt is a bare expression statement.
type ExprStmt struct {
	Pos   lexer.Position
	Value *Expr `parser:"@@ Semicolon"`
}

// Expr is a binary expression over terms. Operator precedence is not
// modeled; the analyzer only needs identifier uses and literal types.
type Expr struct {
	Pos   lexer.Position
	Left  *Term     `parser:"@@"`
	Right []*OpTerm `parser:"@@*"`
}

// OpTerm is an operator followed by a term.
type OpTerm struct {
	Pos  lexer.Position
	Op   string `parser:"@(Plus | Minus | Star | Slash | EqEq | NotEq | LessEq | GreaterEq | Less | Greater)"`
	Term *Term  `parser:"@@"`
}

// Term is a literal, a call, an identifier, or a parenthesized
// subexpression.
type Term struct {
	Pos    lexer.Position
	Float  *float64 `parser:"  @Float"`
	Int    *int64   `parser:"| @Int"`
	String *string  `parser:"| @String"`
	Call   *Call    `parser:"| @@"`
	Ident  *string  `parser:"| @Ident"`
	Sub    *Expr    `parser:"| LParen @@ RParen"`
}

// Call is a function invocation.
type Call struct {
	Pos  lexer.Position
	Name string  `parser:"@Ident LParen"`
	Args []*Expr `parser:"(@@ (Comma @@)*)? RParen"`
}

// TypeName returns the literal's demo-language type, or "" for
// non-literal terms.
func (t *Term) TypeName() string {
	switch {
	case t == nil:
		return ""
	case t.Float != nil:
		return "float"
	case t.Int != nil:
		return "int"
	case t.String != nil:
		return "string"
	default:
		return ""
	}
}
