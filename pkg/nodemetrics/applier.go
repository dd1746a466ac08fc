package nodemetrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/fabric/pkg/queue"
	"github.com/cuemby/fabric/pkg/state"
)

// DefaultPollInterval is how often an Applier tails the shared log for new
// capability, capacity, and heartbeat records.
const DefaultPollInterval = 2 * time.Second

// Applier tails Topic and merges every node's published Node register into
// a local replica, mirroring pkg/vmm.Coordinator's ticker-driven ReadAfter
// loop so that every node's pkg/matcher can read a fresh capacity view
// without waiting on its own Collector cycle.
type Applier struct {
	queue queue.Client
	store *state.Store
}

// NewApplier builds an Applier that merges records from q into store.
func NewApplier(q queue.Client, store *state.Store) *Applier {
	return &Applier{queue: q, store: store}
}

// Run polls the shared log from lastIndex until ctx is cancelled.
func (a *Applier) Run(ctx context.Context, lastIndex int64, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			messages, err := a.queue.ReadAfter(ctx, Topic, lastIndex, 64)
			if err != nil {
				metricsLog.Warn().Err(err).Msg("nodemetrics: applier read failed")
				continue
			}
			for _, m := range messages {
				lastIndex = m.Index
				if err := a.apply(m.Payload); err != nil {
					metricsLog.Warn().Err(err).Msg("nodemetrics: applier apply failed")
				}
			}
		}
	}
}

// apply decodes a signed state.Register carrying a whole Node value,
// verifies it, and merges it into the local store under the signer's
// address — the sub-topic byte distinguishes which collector cycle
// produced the register for observability but every payload merges the
// same way.
func (a *Applier) apply(payload []byte) error {
	var reg state.Register
	if err := json.Unmarshal(payload, &reg); err != nil {
		return err
	}
	if err := reg.Verify(); err != nil {
		return err
	}
	_, err := a.store.Merge(state.KindNode, reg.Signer.String(), reg)
	return err
}
