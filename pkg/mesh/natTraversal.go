package mesh

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/types"
)

var meshLog = log.WithComponent("mesh")

// DiscoverPublicCandidate queries a STUN server to learn the caller's
// externally visible address, used as a high-priority candidate during
// peer admission.
func DiscoverPublicCandidate(stunServer string, timeout time.Duration) (types.CandidateEndpoint, error) {
	var result types.CandidateEndpoint

	conn, err := net.Dial("udp4", stunServer)
	if err != nil {
		return result, fmt.Errorf("mesh: dial stun server %s: %w", stunServer, err)
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return result, fmt.Errorf("mesh: stun client: %w", err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	done := make(chan error, 1)
	var mapped stun.XORMappedAddress
	_ = client.Start(message, func(res stun.Event) {
		if res.Error != nil {
			done <- res.Error
			return
		}
		done <- mapped.GetFrom(res.Message)
	})

	select {
	case err := <-done:
		if err != nil {
			return result, fmt.Errorf("mesh: stun binding: %w", err)
		}
	case <-time.After(timeout):
		return result, fmt.Errorf("mesh: stun binding timed out")
	}

	result = types.CandidateEndpoint{
		Address:  fmt.Sprintf("%s:%d", mapped.IP.String(), mapped.Port),
		Priority: 100,
		Source:   "stun",
	}
	return result, nil
}

// DialDirect attempts to reach each candidate in priority order, returning
// the first one that accepts a TCP connection within timeout per attempt.
func DialDirect(candidates []types.CandidateEndpoint, timeout time.Duration) (types.CandidateEndpoint, bool) {
	sorted := make([]types.CandidateEndpoint, len(candidates))
	copy(sorted, candidates)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority > sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for _, c := range sorted {
		conn, err := net.DialTimeout("tcp", c.Address, timeout)
		if err != nil {
			meshLog.Debug().Str("candidate", c.Address).Err(err).Msg("direct dial failed")
			continue
		}
		conn.Close()
		return c, true
	}
	return types.CandidateEndpoint{}, false
}
