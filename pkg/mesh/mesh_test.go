package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/types"
)

func TestRelaySessionsPutGetSymmetric(t *testing.T) {
	rs := NewRelaySessions(16, time.Minute)
	rs.Put("10.0.0.1", "10.0.0.2", "relay.example:3478")

	session, ok := rs.Get("10.0.0.2", "10.0.0.1")
	require.True(t, ok)
	require.Equal(t, "relay.example:3478", session.RelayAddr)
	require.Equal(t, 1, rs.Len())

	rs.Remove("10.0.0.1", "10.0.0.2")
	_, ok = rs.Get("10.0.0.1", "10.0.0.2")
	require.False(t, ok)
}

type fakeTunnelDevice struct {
	synced map[string]PeerEndpoint
}

func (f *fakeTunnelDevice) EnsureInterface(string) error { return nil }
func (f *fakeTunnelDevice) SyncPeers(peers map[string]PeerEndpoint) error {
	f.synced = peers
	return nil
}

func TestDaemonReconcilePicksHighestPriorityCandidate(t *testing.T) {
	dev := &fakeTunnelDevice{}
	d := NewDaemon(nil, dev, "10.0.0.1", time.Hour)

	peers := map[string]types.Peer{
		"a": {
			OverlayIP: net.ParseIP("10.0.0.2"),
			Candidates: []types.CandidateEndpoint{
				{Address: "1.2.3.4:51820", Priority: 10},
				{Address: "5.6.7.8:51820", Priority: 90},
			},
		},
	}
	err := d.reconcile(context.Background(), func(context.Context) (map[string]types.Peer, error) {
		return peers, nil
	})
	require.NoError(t, err)
	require.Equal(t, "5.6.7.8:51820", dev.synced["10.0.0.2"].Endpoint)
}

func TestDialDirectSkipsUnreachable(t *testing.T) {
	_, ok := DialDirect([]types.CandidateEndpoint{{Address: "127.0.0.1:1"}}, 50*time.Millisecond)
	require.False(t, ok)
}
