package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeWriteReadAfter(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	idx0, err := f.Write(ctx, "state", 1, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, int64(0), idx0)

	_, err = f.Write(ctx, "state", 2, []byte("b"))
	require.NoError(t, err)

	msgs, err := f.ReadAfter(ctx, "state", -1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, byte(1), msgs[0].SubTopic)
	require.Equal(t, []byte("a"), msgs[0].Payload)

	msgs, err = f.ReadAfter(ctx, "state", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(2), msgs[0].SubTopic)
}

func TestHashTopicDeterministic(t *testing.T) {
	a := HashTopic("vmm")
	b := HashTopic("vmm")
	require.Equal(t, a, b)
	require.NotEqual(t, a, HashTopic("state"))
}
