package nodemetrics

import (
	"context"
	"crypto/ecdsa"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/queue"
	"github.com/cuemby/fabric/pkg/state"
)

func newTestStateServer(t *testing.T) (*state.Store, string) {
	t.Helper()
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := state.NewServer(store, func() []string { return nil }, 0)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return store, ts.URL
}

func TestGatherCapabilityAndCapacity(t *testing.T) {
	cap, err := gatherCapability()
	require.NoError(t, err)
	require.Greater(t, cap.VCPUs, 0)
	require.Greater(t, cap.MemoryMB, int64(0))

	snapshot, err := gatherCapacity()
	require.NoError(t, err)
	require.GreaterOrEqual(t, snapshot.FreeVCPUs, 0)
	require.False(t, snapshot.ReportedAt.IsZero())
}

func TestCollectorPublishesCapabilityAndCapacity(t *testing.T) {
	store, baseURL := newTestStateServer(t)
	key := testKey(t)
	stateClient := state.NewClient(baseURL, key)
	q := queue.NewFake()

	collector := NewCollector(q, stateClient, key, "us-east")
	ctx := context.Background()

	require.NoError(t, collector.PublishCapability(ctx))
	require.NoError(t, collector.tick(ctx))

	messages, err := q.ReadAfter(ctx, Topic, -1, 64)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, SubTopicCapability, messages[0].SubTopic)
	require.Equal(t, SubTopicCapacity, messages[1].SubTopic)

	_, found, err := store.Get(state.KindNode, collector.address.String())
	require.NoError(t, err)
	require.True(t, found)
}

func TestApplierMergesPublishedRegisters(t *testing.T) {
	_, baseURL := newTestStateServer(t)
	key := testKey(t)
	stateClient := state.NewClient(baseURL, key)
	q := queue.NewFake()

	collector := NewCollector(q, stateClient, key, "eu-west")
	ctx := context.Background()
	require.NoError(t, collector.PublishCapability(ctx))

	replicaStore, err := state.Open(t.TempDir())
	require.NoError(t, err)
	defer replicaStore.Close()

	applier := NewApplier(q, replicaStore)
	messages, err := q.ReadAfter(ctx, Topic, -1, 64)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NoError(t, applier.apply(messages[0].Payload))

	reg, found, err := replicaStore.Get(state.KindNode, collector.address.String())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, collector.address.String(), reg.Signer.String())
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}
