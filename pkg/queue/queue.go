// Package queue is the message queue client every fabric component uses to
// publish and tail append-only topics backed by an external Kafka-compatible
// broker. Each topic is content-addressed by hashing its name, and every
// message is prefixed with a single sub-topic byte so that a consumer can
// cheaply filter without decoding the payload.
package queue

import (
	"context"
	"crypto/sha3"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cuemby/fabric/pkg/log"
)

var queueLog = log.WithComponent("queue")

// Message is a single record read back from a topic.
type Message struct {
	Index    int64
	SubTopic byte
	Payload  []byte
}

// Client is the interface every fabric component depends on; the real
// franz-go-backed implementation and the in-process Fake both satisfy it so
// unit tests never need a live broker.
type Client interface {
	Write(ctx context.Context, topic string, subTopic byte, payload []byte) (int64, error)
	ReadAfter(ctx context.Context, topic string, lastIndex int64, n int) ([]Message, error)
	Close() error
}

// HashTopic derives the 32-byte topic identifier from a human-readable
// topic name: an 8-byte xxhash digest seeds a SHA3-256 expansion, keeping a
// single hash-primitive family with pkg/envelope's Keccak usage while
// producing the documented 32-byte width.
func HashTopic(name string) [32]byte {
	seed := xxhash.Sum64String(name)
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], seed)
	return sha3.Sum256(seedBytes[:])
}

// TopicString renders the hashed topic as the literal string used as the
// broker-level topic name.
func TopicString(name string) string {
	h := HashTopic(name)
	return fmt.Sprintf("%x", h)
}

// kgoClient is the production Client backed by franz-go.
type kgoClient struct {
	cl *kgo.Client
}

// New connects to the given broker addresses.
func New(brokerAddrs []string) (Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokerAddrs...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}
	return &kgoClient{cl: cl}, nil
}

func (c *kgoClient) Write(ctx context.Context, topic string, subTopic byte, payload []byte) (int64, error) {
	record := &kgo.Record{
		Topic: TopicString(topic),
		Value: append([]byte{subTopic}, payload...),
	}
	results := c.cl.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return 0, fmt.Errorf("queue: write %s: %w", topic, err)
	}
	return results[0].Record.Offset, nil
}

func (c *kgoClient) ReadAfter(ctx context.Context, topic string, lastIndex int64, n int) ([]Message, error) {
	topicName := TopicString(topic)
	c.cl.AddConsumePartitions(map[string]map[int32]kgo.Offset{
		topicName: {0: kgo.NewOffset().At(lastIndex + 1)},
	})
	defer c.cl.RemoveConsumePartitions(map[string][]int32{topicName: {0}})

	fetches := c.cl.PollRecords(ctx, n)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("queue: read %s: %v", topic, errs[0].Err)
	}

	var out []Message
	fetches.EachRecord(func(r *kgo.Record) {
		if len(r.Value) == 0 {
			return
		}
		out = append(out, Message{Index: r.Offset, SubTopic: r.Value[0], Payload: r.Value[1:]})
	})
	queueLog.Debug().Str("topic", topic).Int("count", len(out)).Msg("read records")
	return out, nil
}

func (c *kgoClient) Close() error {
	c.cl.Close()
	return nil
}
