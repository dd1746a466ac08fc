package mesh

import (
	"fmt"
	"net"

	"github.com/pion/turn/v4"
)

// RelayServer hosts the TURN-protocol relay that formnet peers fall back
// to once direct dial and STUN-assisted hole punching both fail. It speaks
// the TURN wire protocol purely as a NAT-traversal relay transport; the
// application-level bookkeeping of which peer pair is using it lives in
// RelaySessions, not in this server.
type RelayServer struct {
	server *turn.Server
}

// NewRelayServer starts a TURN relay bound to listenAddr, authenticating
// clients against the given realm/credential pair (one shared relay
// credential per deployment, consistent with fabric's signature-based
// trust model rather than per-peer TURN credentials).
func NewRelayServer(listenAddr, realm, username, password string) (*RelayServer, error) {
	udpListener, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("mesh: relay listen %s: %w", listenAddr, err)
	}

	cred := turn.GenerateAuthKey(username, realm, password)
	s, err := turn.NewServer(turn.ServerConfig{
		Realm: realm,
		AuthHandler: func(u string, r string, srcAddr net.Addr) ([]byte, bool) {
			if u != username || r != realm {
				return nil, false
			}
			return cred, true
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP("127.0.0.1"),
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		udpListener.Close()
		return nil, fmt.Errorf("mesh: relay server: %w", err)
	}
	return &RelayServer{server: s}, nil
}

func (r *RelayServer) Close() error {
	return r.server.Close()
}
