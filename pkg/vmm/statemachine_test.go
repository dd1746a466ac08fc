package vmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/types"
)

func TestTransitionHappyPath(t *testing.T) {
	s, err := Transition("", EventCreate)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusPending, s)

	s, err = Transition(s, EventBoot)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusRunning, s)

	s, err = Transition(s, EventStop)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusStopped, s)

	s, err = Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusRunning, s)

	s, err = Transition(s, EventStop)
	require.NoError(t, err)
	s, err = Transition(s, EventDelete)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusDeleted, s)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	_, err := Transition(types.InstanceStatusPending, EventStop)
	require.Error(t, err)

	_, err = Transition(types.InstanceStatusRunning, EventDelete)
	require.Error(t, err)

	_, err = Transition(types.InstanceStatusDeleted, EventBoot)
	require.Error(t, err)
}

func TestFailFromNonTerminal(t *testing.T) {
	next, ok := Fail(types.InstanceStatusRunning)
	require.True(t, ok)
	require.Equal(t, types.InstanceStatusFailed, next)

	_, ok = Fail(types.InstanceStatusDeleted)
	require.False(t, ok)
}

func TestTapAllocatorMonotonic(t *testing.T) {
	a := NewTapAllocator(5)
	require.Equal(t, uint64(5), a.Allocate())
	require.Equal(t, uint64(6), a.Allocate())
}
