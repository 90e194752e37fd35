package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcproxy/ruleproxy/rule"
)

func TestCellInstallIsVisibleToSubsequentSnapshots(t *testing.T) {
	c := NewCell()
	first := c.Snapshot()
	require.NotNil(t, first)

	prog, err := rule.Compile(`(def-rule r DROP)`)
	require.NoError(t, err)
	c.Install(prog)

	require.Same(t, prog, c.Snapshot())
	// After the swap the cell no longer hands out the earlier snapshot.
	require.NotSame(t, first, c.Snapshot())
}
