// Package matcher implements the decentralized capability matcher: given a
// build request and the current Node registry, every node independently
// computes the same winning node, without any coordinator. It replaces the
// teacher's centralized round-robin scheduler (pkg/scheduler) with a pure,
// deterministic election function.
package matcher

import (
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/fabric/pkg/types"
)

// BuildRequest is the normalized demand a pack build or instance placement
// must be matched against.
type BuildRequest struct {
	BuildID   [32]byte
	Region    string // empty matches any region
	Resources types.Resources
}

// candidate pairs a node with its deterministic tie-break score.
type candidate struct {
	node  types.Node
	score uint64
}

// Eligible filters nodes to those with enough free capacity, matching
// region (if requested), and online within the given heartbeat interval.
func Eligible(req BuildRequest, nodes []types.Node, heartbeatInterval time.Duration, now time.Time) []types.Node {
	var out []types.Node
	for _, n := range nodes {
		if n.EffectiveStatus(heartbeatInterval, now) != types.NodeStatusOnline {
			continue
		}
		if req.Region != "" && n.Region != req.Region {
			continue
		}
		if !hasCapacity(n.Capacity, req.Resources) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func hasCapacity(cap types.CapacitySnapshot, want types.Resources) bool {
	if cap.FreeVCPUs < want.VCPUs {
		return false
	}
	if cap.FreeMemoryMB < want.MemoryMB {
		return false
	}
	if cap.FreeDiskGB < want.DiskGB {
		return false
	}
	if want.GPUClass != "" && cap.FreeGPUs < 1 {
		return false
	}
	return true
}

// tieBreakScore computes a node's score for a given build: the xxhash of
// buildID concatenated with the node address. Lower score wins, so that
// the same (buildID, node set) always elects the same winner regardless of
// slice ordering or which node is evaluating.
func tieBreakScore(buildID [32]byte, addr types.Address) uint64 {
	buf := make([]byte, 0, len(buildID)+len(addr))
	buf = append(buf, buildID[:]...)
	buf = append(buf, addr[:]...)
	return xxhash.Sum64(buf)
}

// Elect returns the winning node for req among the eligible candidates, and
// whether a winner was found at all.
func Elect(req BuildRequest, eligible []types.Node) (types.Node, bool) {
	if len(eligible) == 0 {
		return types.Node{}, false
	}
	candidates := make([]candidate, len(eligible))
	for i, n := range eligible {
		candidates[i] = candidate{node: n, score: tieBreakScore(req.BuildID, n.Address)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return lessAddress(candidates[i].node.Address, candidates[j].node.Address)
	})
	return candidates[0].node, true
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// IsWinner reports whether localAddr is the elected node for req among
// nodes, as of now. Every node calls this independently with the same
// Node registry snapshot and must reach the same answer (spec.md testable
// property 3).
func IsWinner(req BuildRequest, nodes []types.Node, heartbeatInterval time.Duration, now time.Time, localAddr types.Address) bool {
	winner, ok := Elect(req, Eligible(req, nodes, heartbeatInterval, now))
	if !ok {
		return false
	}
	return winner.Address == localAddr
}
