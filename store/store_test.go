package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateRequestUpdateDelete(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Create("r1", "(def-rule r1 DROP)")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	rec, err := s.Request(id)
	require.NoError(t, err)
	require.Equal(t, "r1", rec.Name)

	require.NoError(t, s.Update(id, "(def-rule r1 REJECT)"))
	rec, err = s.Request(id)
	require.NoError(t, err)
	require.Equal(t, "(def-rule r1 REJECT)", rec.Content)

	require.NoError(t, s.Delete(id))
	_, err = s.Request(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIDsAreMonotonicAndNotReused(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.Create("a", "x")
	require.NoError(t, err)
	id2, err := s.Create("b", "y")
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	require.NoError(t, s.Delete(id1))

	id3, err := s.Create("c", "z")
	require.NoError(t, err)
	require.Greater(t, id3, id2)
}

func TestCreateThenDeleteLeavesStorePriorState(t *testing.T) {
	s := openTestStore(t)

	before, err := s.List()
	require.NoError(t, err)

	id, err := s.Create("transient", "(def-rule t DROP)")
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))

	after, err := s.List()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestListReturnsAllRecords(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Create("one", "DROP")
	require.NoError(t, err)
	_, err = s.Create("two", "REJECT")
	require.NoError(t, err)

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
}
