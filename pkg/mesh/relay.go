package mesh

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// RelaySession is a fallback forwarding session used when direct NAT
// traversal between two peers fails. It is independent of the TURN
// protocol's own session concept: fabric only borrows pion/turn's server
// implementation to host the relay, while RelaySession is the
// application-level record of which peer pair is currently relaying.
type RelaySession struct {
	PeerA      string // overlay IP
	PeerB      string
	RelayAddr  string
	EstablishedAt time.Time
}

// RelaySessions is a bounded, time-expiring table of active relay
// sessions, keyed by "peerA|peerB" (canonicalized by the caller).
type RelaySessions struct {
	cache *lru.LRU[string, RelaySession]
}

// NewRelaySessions creates a table holding up to capacity sessions. Each
// session expires ttl after its last Put; Get does not extend it, so
// lookups do not keep a session alive.
func NewRelaySessions(capacity int, ttl time.Duration) *RelaySessions {
	return &RelaySessions{cache: lru.NewLRU[string, RelaySession](capacity, nil, ttl)}
}

func sessionKey(a, b string) string {
	if a <= b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (r *RelaySessions) Put(a, b, relayAddr string) {
	r.cache.Add(sessionKey(a, b), RelaySession{PeerA: a, PeerB: b, RelayAddr: relayAddr, EstablishedAt: time.Now()})
}

func (r *RelaySessions) Get(a, b string) (RelaySession, bool) {
	return r.cache.Get(sessionKey(a, b))
}

func (r *RelaySessions) Remove(a, b string) {
	r.cache.Remove(sessionKey(a, b))
}

func (r *RelaySessions) Len() int {
	return r.cache.Len()
}
