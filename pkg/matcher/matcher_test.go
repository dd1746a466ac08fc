package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/types"
)

func node(addr byte, region string, freeVCPUs int, status types.NodeStatus, hb time.Time) types.Node {
	var a types.Address
	a[len(a)-1] = addr
	return types.Node{
		Address:       a,
		Region:        region,
		Status:        status,
		LastHeartbeat: hb,
		Capacity:      types.CapacitySnapshot{FreeVCPUs: freeVCPUs, FreeMemoryMB: 4096, FreeDiskGB: 100},
	}
}

func TestElectIsDeterministicAcrossOrdering(t *testing.T) {
	now := time.Now()
	req := BuildRequest{BuildID: [32]byte{1, 2, 3}, Resources: types.DefaultResources()}
	nodes := []types.Node{
		node(1, "us-east", 4, types.NodeStatusOnline, now),
		node(2, "us-east", 4, types.NodeStatusOnline, now),
		node(3, "us-east", 4, types.NodeStatusOnline, now),
	}
	eligible := Eligible(req, nodes, time.Minute, now)
	winnerA, okA := Elect(req, eligible)
	require.True(t, okA)

	reversed := []types.Node{nodes[2], nodes[1], nodes[0]}
	winnerB, okB := Elect(req, Eligible(req, reversed, time.Minute, now))
	require.True(t, okB)

	require.Equal(t, winnerA.Address, winnerB.Address)
}

func TestEligibleFiltersOfflineAndUndersized(t *testing.T) {
	now := time.Now()
	req := BuildRequest{BuildID: [32]byte{9}, Resources: types.Resources{VCPUs: 4, MemoryMB: 1024, DiskGB: 10}}
	nodes := []types.Node{
		node(1, "us-east", 8, types.NodeStatusOnline, now),
		node(2, "us-east", 1, types.NodeStatusOnline, now),                      // too small
		node(3, "us-east", 8, types.NodeStatusOnline, now.Add(-time.Hour)),      // stale heartbeat
		node(4, "eu-west", 8, types.NodeStatusOnline, now),                      // wrong region
	}
	req.Region = "us-east"
	eligible := Eligible(req, nodes, time.Minute, now)
	require.Len(t, eligible, 1)
	require.Equal(t, nodes[0].Address, eligible[0].Address)
}

func TestIsWinnerAgreesWithElect(t *testing.T) {
	now := time.Now()
	req := BuildRequest{BuildID: [32]byte{7}, Resources: types.DefaultResources()}
	nodes := []types.Node{
		node(1, "", 4, types.NodeStatusOnline, now),
		node(2, "", 4, types.NodeStatusOnline, now),
	}
	winner, ok := Elect(req, Eligible(req, nodes, time.Minute, now))
	require.True(t, ok)
	require.True(t, IsWinner(req, nodes, time.Minute, now, winner.Address))

	var other types.Address
	for _, n := range nodes {
		if n.Address != winner.Address {
			other = n.Address
		}
	}
	require.False(t, IsWinner(req, nodes, time.Minute, now, other))
}

func TestElectNoEligibleNodes(t *testing.T) {
	_, ok := Elect(BuildRequest{}, nil)
	require.False(t, ok)
}
