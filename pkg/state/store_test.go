package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreMergeAppliesOnlyWinningWrites(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	older := signedRegister(t, 1, now)
	newer := signedRegister(t, 2, now.Add(time.Minute))

	applied, err := s.Merge(KindNode, "n1", older)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.Merge(KindNode, "n1", newer)
	require.NoError(t, err)
	require.True(t, applied)

	// Replaying the older register must not overwrite the newer one.
	applied, err = s.Merge(KindNode, "n1", older)
	require.NoError(t, err)
	require.False(t, applied)

	got, ok, err := s.Get(KindNode, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newer.Timestamp, got.Timestamp)
}

func TestStoreListAndDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	reg := signedRegister(t, "x", time.Now())
	_, err = s.Merge(KindAccount, "a1", reg)
	require.NoError(t, err)

	all, err := s.List(KindAccount)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.Delete(KindAccount, "a1"))
	all, err = s.List(KindAccount)
	require.NoError(t, err)
	require.Len(t, all, 0)
}
