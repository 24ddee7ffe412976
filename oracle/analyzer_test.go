package oracle_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/oracle"
)

func analyze(t *testing.T, src string) *oracle.FileAnalysis {
	t.Helper()

	fa, err := oracle.NewAnalyzer().Analyze(context.Background(), "test.kiln", []byte(src), oracle.Options{})
	require.NoError(t, err)

	return fa
}

func TestAnalyze_VarDeclaration(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = 1;")

	require.Len(t, fa.Symbols, 1)
	sym := fa.Symbols[0]
	assert.Equal(t, "a", sym.Name)
	assert.Equal(t, oracle.KindVar, sym.Kind)
	assert.Equal(t, "int", sym.Type)
	assert.Empty(t, fa.Diagnostics)

	// "int a = 1;" — the name span covers column 4.
	assert.Equal(t, kiln.Span{
		Start: kiln.Position{Line: 0, Column: 4},
		End:   kiln.Position{Line: 0, Column: 5},
	}, sym.NameSpan)
}

func TestAnalyze_ClassAndFields(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "class C {\n\tint y;\n\tstring name;\n}")

	require.Len(t, fa.Symbols, 3)
	assert.Equal(t, oracle.KindClass, fa.Symbols[0].Kind)
	assert.Equal(t, "C", fa.Symbols[0].Name)
	assert.Equal(t, oracle.KindField, fa.Symbols[1].Kind)
	assert.Equal(t, "C", fa.Symbols[1].Container)
	assert.Empty(t, fa.Diagnostics)
}

func TestAnalyze_FunctionWithParams(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "fn add(int x, int y) { return x + y; }")

	require.NotEmpty(t, fa.Symbols)
	assert.Equal(t, "fn add(int x, int y)", fa.Symbols[0].Detail)

	// x and y are referenced in the body.
	names := make(map[string]int)
	for _, ref := range fa.Refs {
		names[ref.Name]++
	}
	assert.Equal(t, 1, names["x"])
	assert.Equal(t, 1, names["y"])
	assert.Empty(t, fa.Diagnostics)
}

func TestAnalyze_Imports(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "import \"lib\";\nimport \"util\";\nint a = 1;")

	assert.Equal(t, []string{"lib", "util"}, fa.ImportPaths())
}

func TestAnalyze_BrokenDeclIsPartial(t *testing.T) {
	t.Parallel()

	// The middle declaration is syntactically broken; its neighbors
	// must still produce symbols.
	fa := analyze(t, "int a = 1;\nint x = ;\nint b = 2;")

	names := symbolNames(fa)
	assert.Contains(t, names, "a")
	assert.Contains(t, names, "b")

	require.NotEmpty(t, fa.Diagnostics)
	assert.Equal(t, "parse", fa.Diagnostics[0].Code)
	assert.Equal(t, kiln.SeverityError, fa.Diagnostics[0].Severity)
	assert.Equal(t, 1, fa.Diagnostics[0].Span.Start.Line)
}

func TestAnalyze_UnterminatedClassIsNonFatal(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "class C {\n int y\n")

	// A diagnostic, not a failure.
	assert.NotEmpty(t, fa.Diagnostics)
}

func TestAnalyze_EmptyText(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "")

	assert.Empty(t, fa.Symbols)
	assert.Empty(t, fa.Diagnostics)
	assert.Zero(t, fa.Decls)
}

func TestAnalyze_DuplicateDeclaration(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = 1;\nint a = 2;")

	require.NotEmpty(t, fa.Diagnostics)
	assert.Equal(t, "duplicate", fa.Diagnostics[0].Code)
}

func TestAnalyze_UnresolvedIdentifier(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = missing + 1;")

	require.NotEmpty(t, fa.Diagnostics)
	assert.Equal(t, "unresolved", fa.Diagnostics[0].Code)
	assert.Equal(t, kiln.SeverityWarning, fa.Diagnostics[0].Severity)
}

func TestAnalyze_ExternalsResolveImports(t *testing.T) {
	t.Parallel()

	src := "import \"lib\";\nint a = libValue;"

	fa, err := oracle.NewAnalyzer().Analyze(context.Background(), "test.kiln", []byte(src), oracle.Options{
		Externals: map[string]struct{}{"libValue": {}},
	})
	require.NoError(t, err)
	assert.Empty(t, fa.Diagnostics)
}

func TestAnalyze_CheckpointCancelsPerDecl(t *testing.T) {
	t.Parallel()

	src := "int a = 1;\nint b = 2;\nint c = 3;\nint d = 4;"

	calls := 0
	_, err := oracle.NewAnalyzer().Analyze(context.Background(), "test.kiln", []byte(src), oracle.Options{
		Checkpoint: func() error {
			calls++
			if calls >= 2 {
				return kiln.ErrCancelled
			}

			return nil
		},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, kiln.ErrCancelled))
	assert.Equal(t, 2, calls, "analysis must unwind at the failing checkpoint")
}

func TestAnalyze_CheckpointEveryThrottlesPolling(t *testing.T) {
	t.Parallel()

	// Ten declarations with a cadence of 4 poll at declarations 0, 4,
	// and 8.
	src := ""
	for i := 0; i < 10; i++ {
		src += fmt.Sprintf("int v%d = %d;\n", i, i)
	}

	calls := 0
	fa, err := oracle.NewAnalyzer().Analyze(context.Background(), "test.kiln", []byte(src), oracle.Options{
		Checkpoint:      func() error { calls++; return nil },
		CheckpointEvery: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, fa.Decls)
	assert.Equal(t, 3, calls)

	// A cadence below 1 degrades to polling every declaration.
	calls = 0
	_, err = oracle.NewAnalyzer().Analyze(context.Background(), "test.kiln", []byte(src), oracle.Options{
		Checkpoint:      func() error { calls++; return nil },
		CheckpointEvery: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
}

func TestAnalyze_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := oracle.NewAnalyzer().Analyze(ctx, "test.kiln", []byte("int a = 1;"), oracle.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kiln.ErrCancelled))
}

func TestDefinitionAt_ResolvesReference(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = 1;\nint b = a + 1;")

	// Position of "a" in "int b = a + 1;" (line 1, col 8).
	sym, ok := fa.DefinitionAt(kiln.Position{Line: 1, Column: 8})
	require.True(t, ok)
	assert.Equal(t, "a", sym.Name)
	assert.Equal(t, 0, sym.NameSpan.Start.Line)
}

func TestReferencesAt_FindsAllUses(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = 1;\nint b = a + 1;\nint c = a + b;")

	spans := fa.ReferencesAt(kiln.Position{Line: 0, Column: 4}, true)
	require.Len(t, spans, 3) // decl + two uses
	assert.Equal(t, 0, spans[0].Start.Line)
	assert.Equal(t, 1, spans[1].Start.Line)
	assert.Equal(t, 2, spans[2].Start.Line)
}

func TestCompletions_PrefixFiltered(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int alpha = 1;\nint beta = 2;\nfn alphaFn() { return; }")

	syms := fa.Completions("al")
	require.Len(t, syms, 2)
	assert.Equal(t, "alpha", syms[0].Name)
	assert.Equal(t, "alphaFn", syms[1].Name)
}

func TestDefinitionAt_OutsideBounds(t *testing.T) {
	t.Parallel()

	fa := analyze(t, "int a = 1;")

	_, ok := fa.DefinitionAt(kiln.Position{Line: 99, Column: 99})
	assert.False(t, ok)
}

func symbolNames(fa *oracle.FileAnalysis) []string {
	names := make([]string, 0, len(fa.Symbols))
	for _, s := range fa.Symbols {
		names = append(names, s.Name)
	}

	return names
}
