package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/ice/v4"

	"github.com/cuemby/fabric/pkg/types"
)

// GatherICECandidates uses pion/ice's host+srflx candidate gathering to
// enumerate reachability candidates beyond the single STUN-derived one
// DiscoverPublicCandidate returns, covering multi-homed nodes with several
// local interfaces.
func GatherICECandidates(ctx context.Context, stunURLs []string, timeout time.Duration) ([]types.CandidateEndpoint, error) {
	urls := make([]*ice.URL, 0, len(stunURLs))
	for _, raw := range stunURLs {
		u, err := ice.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("mesh: parse stun url %s: %w", raw, err)
		}
		urls = append(urls, u)
	}

	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:           urls,
		NetworkTypes:   []ice.NetworkType{ice.NetworkTypeUDP4},
		CandidateTypes: []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive},
	})
	if err != nil {
		return nil, fmt.Errorf("mesh: create ice agent: %w", err)
	}
	defer agent.Close()

	found := make(chan []types.CandidateEndpoint, 1)
	var candidates []types.CandidateEndpoint
	err = agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			found <- candidates
			return
		}
		candidates = append(candidates, types.CandidateEndpoint{
			Address:  fmt.Sprintf("%s:%d", c.Address(), c.Port()),
			Priority: int(c.Priority()),
			Source:   string(c.Type().String()),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("mesh: register candidate handler: %w", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("mesh: gather candidates: %w", err)
	}

	select {
	case result := <-found:
		return result, nil
	case <-time.After(timeout):
		return candidates, nil
	case <-ctx.Done():
		return candidates, ctx.Err()
	}
}
