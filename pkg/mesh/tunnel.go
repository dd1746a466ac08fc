// Package mesh implements the overlay network ("formnet"): peer admission,
// candidate exchange, NAT traversal with relay fallback, and the lifecycle
// daemon that keeps a local tunnel device's peer table in sync with the
// CRDT Peer registry.
package mesh

import "fmt"

// TunnelDevice is the narrow interface the lifecycle daemon drives. Key
// agreement and packet forwarding are out of scope per spec.md §1 ("no
// WireGuard-equivalent key exchange protocol design"); TunnelDevice only
// needs to reflect the current peer table onto whatever local networking
// primitive a deployment provides. Grounded on the teacher's
// poc/wireguard proof-of-concept, generalized from a one-off wgctrl script
// into a real interface with a no-op userspace default.
type TunnelDevice interface {
	// EnsureInterface brings up the local tunnel interface at localIP.
	EnsureInterface(localIP string) error
	// SyncPeers replaces the device's peer table with peers, keyed by
	// overlay IP and resolved to the given real-world endpoint.
	SyncPeers(peers map[string]PeerEndpoint) error
}

// PeerEndpoint is a tunnel peer's resolved, dialable address.
type PeerEndpoint struct {
	PublicKeyHex string
	Endpoint     string
}

// NullTunnelDevice is the default TunnelDevice: it logs intended state
// without touching the host network stack, matching environments (CI,
// containers without NET_ADMIN) where no kernel or userspace WireGuard
// backend is available.
type NullTunnelDevice struct {
	log func(string)
}

func NewNullTunnelDevice(log func(string)) *NullTunnelDevice {
	return &NullTunnelDevice{log: log}
}

func (n *NullTunnelDevice) EnsureInterface(localIP string) error {
	if n.log != nil {
		n.log(fmt.Sprintf("mesh: would bring up tunnel interface at %s", localIP))
	}
	return nil
}

func (n *NullTunnelDevice) SyncPeers(peers map[string]PeerEndpoint) error {
	if n.log != nil {
		n.log(fmt.Sprintf("mesh: would sync %d peers", len(peers)))
	}
	return nil
}
