package mesh

import (
	"context"
	"net"
	"time"

	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

func parseIPOrNil(s string) net.IP {
	return net.ParseIP(s)
}

// Daemon periodically reconciles the local TunnelDevice's peer table
// against the CRDT Peer registry. Key agreement and packet forwarding stay
// out of scope (spec.md §1); the daemon only keeps TunnelDevice informed of
// who the current peer set is and how to reach them.
type Daemon struct {
	state  *state.Client
	device TunnelDevice
	localIP string
	tick   time.Duration
}

// NewDaemon builds a reconciliation loop for localIP, ticking every
// interval.
func NewDaemon(st *state.Client, device TunnelDevice, localIP string, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Daemon{state: st, device: device, localIP: localIP, tick: interval}
}

// Run reconciles once immediately, then on each tick, until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context, listPeers func(context.Context) (map[string]types.Peer, error)) error {
	if err := d.device.EnsureInterface(d.localIP); err != nil {
		return err
	}
	if err := d.reconcile(ctx, listPeers); err != nil {
		meshLog.Warn().Err(err).Msg("mesh: initial reconcile failed")
	}

	t := time.NewTicker(d.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := d.reconcile(ctx, listPeers); err != nil {
				meshLog.Warn().Err(err).Msg("mesh: reconcile failed")
			}
		}
	}
}

func (d *Daemon) reconcile(ctx context.Context, listPeers func(context.Context) (map[string]types.Peer, error)) error {
	peers, err := listPeers(ctx)
	if err != nil {
		return err
	}
	table := make(map[string]PeerEndpoint, len(peers))
	for _, p := range peers {
		if p.OverlayIP == nil || len(p.Candidates) == 0 {
			continue
		}
		best := p.Candidates[0]
		for _, c := range p.Candidates[1:] {
			if c.Priority > best.Priority {
				best = c
			}
		}
		table[p.OverlayIP.String()] = PeerEndpoint{
			PublicKeyHex: hexEncode(p.PublicKey[:]),
			Endpoint:     best.Address,
		}
	}
	return d.device.SyncPeers(table)
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
