package lsp

import (
	"testing"

	"go.lsp.dev/protocol"

	"github.com/kilnlsp/kiln"
)

func TestPositionConversion_ColumnsPassThrough(t *testing.T) {
	t.Parallel()

	// Engine columns are byte offsets and LSP characters are UTF-16
	// code units; on the ASCII grammar they coincide, so conversion in
	// either direction must not shift columns.
	pos := positionFromLSP(protocol.Position{Line: 3, Character: 14})
	if pos.Line != 3 || pos.Column != 14 {
		t.Errorf("positionFromLSP = %+v, want line 3 column 14", pos)
	}

	rng := spanToRange(kiln.Span{
		Start: kiln.Position{Line: 3, Column: 14},
		End:   kiln.Position{Line: 3, Column: 20},
	})
	want := protocol.Range{
		Start: protocol.Position{Line: 3, Character: 14},
		End:   protocol.Position{Line: 3, Character: 20},
	}
	if rng != want {
		t.Errorf("spanToRange = %+v, want %+v", rng, want)
	}
}
