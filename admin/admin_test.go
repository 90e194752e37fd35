package admin

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcproxy/ruleproxy/store"
)

func startTestServer(t *testing.T) (addr string, s *store.Store, cell *store.Cell) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cell = store.NewCell()
	srv := &Server{Store: s, Cell: cell, Logger: zap.NewNop()}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx, addr)
	t.Cleanup(cancel)
	time.Sleep(20 * time.Millisecond)
	return addr, s, cell
}

func TestCreateListRequestUpdateDeleteOverWire(t *testing.T) {
	addr, _, _ := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.Create("r1", "(def-rule r1 DROP)")
	require.NoError(t, err)

	views, err := c.List()
	require.NoError(t, err)
	require.Len(t, views, 1)

	got, err := c.Request(id)
	require.NoError(t, err)
	require.Equal(t, "r1", got.Name)

	require.NoError(t, c.Update(id, "(def-rule r1 REJECT)"))
	got, err = c.Request(id)
	require.NoError(t, err)
	require.Equal(t, "(def-rule r1 REJECT)", got.Content)

	require.NoError(t, c.Delete(id))
	_, err = c.Request(id)
	require.Error(t, err)
}

func TestCreateRejectsMalformedContent(t *testing.T) {
	addr, _, _ := startTestServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Create("bad", "(def-rule r (if 69 420 \"foo\"))")
	require.Error(t, err)

	views, err := c.List()
	require.NoError(t, err)
	require.Empty(t, views, "rejected content must not be persisted")
}

func TestSetProgramInstallsIntoActiveCell(t *testing.T) {
	addr, _, cell := startTestServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.Create("r1", "(def-rule r1 REJECT)")
	require.NoError(t, err)

	before := cell.Snapshot()
	require.NoError(t, c.SetProgram(id))
	require.NotSame(t, before, cell.Snapshot())
}

func TestSetProgramLeavesActiveProgramUnchangedOnBadID(t *testing.T) {
	addr, _, cell := startTestServer(t)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	before := cell.Snapshot()
	err = c.SetProgram(9999)
	require.Error(t, err)
	require.Same(t, before, cell.Snapshot())
}
