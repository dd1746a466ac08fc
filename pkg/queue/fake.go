package queue

import (
	"context"
	"sync"
)

// Fake is an in-process Client backed by a per-topic append-only slice,
// used by tests so they never need a live broker. Grounded on the
// teacher's in-process pub/sub broker (pkg/events), replacing its
// fan-out-channel design with simple durable-within-process offsets since
// queue.Client is pull-based, not push-based.
type Fake struct {
	mu     sync.Mutex
	topics map[string][]Message
}

// NewFake returns an empty Fake broker.
func NewFake() *Fake {
	return &Fake{topics: make(map[string][]Message)}
}

func (f *Fake) Write(_ context.Context, topic string, subTopic byte, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int64(len(f.topics[topic]))
	f.topics[topic] = append(f.topics[topic], Message{Index: idx, SubTopic: subTopic, Payload: payload})
	return idx, nil
}

func (f *Fake) ReadAfter(_ context.Context, topic string, lastIndex int64, n int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.topics[topic]
	var out []Message
	for _, m := range all {
		if m.Index > lastIndex {
			out = append(out, m)
			if len(out) == n {
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) Close() error { return nil }
