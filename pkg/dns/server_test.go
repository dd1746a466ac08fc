package dns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewServerAppliesDefaults(t *testing.T) {
	store := newTestStore(t)
	s, err := NewServer(store, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddr, s.listenAddr)
	require.Equal(t, []string{DefaultUpstream}, s.upstream)
}

func TestServerIsRunningInitiallyFalse(t *testing.T) {
	store := newTestStore(t)
	s, err := NewServer(store, nil)
	require.NoError(t, err)
	require.False(t, s.IsRunning())
}
