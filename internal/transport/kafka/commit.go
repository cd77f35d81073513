package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type topicPartition struct {
	topic     string
	partition int
}

// offsetTracker holds the in-flight offsets of one partition in fetch order.
type offsetTracker struct {
	inflight []int64
	done     map[int64]struct{}
}

func (t *offsetTracker) track(offset int64) {
	t.inflight = append(t.inflight, offset)
}

// complete marks offset processed and returns the highest offset whose
// predecessors have all completed.
func (t *offsetTracker) complete(offset int64) (int64, bool) {
	t.done[offset] = struct{}{}

	var last int64
	advanced := false
	for len(t.inflight) > 0 {
		head := t.inflight[0]
		if _, ok := t.done[head]; !ok {
			break
		}
		delete(t.done, head)
		t.inflight = t.inflight[1:]
		last, advanced = head, true
	}
	if len(t.inflight) == 0 {
		t.inflight = nil
	}
	return last, advanced
}

// CommitTracker decides which offsets are safe to commit. Messages of one
// partition finish out of order because they fan out to different workers;
// only the contiguous completed prefix is ever handed out.
type CommitTracker struct {
	mu         sync.Mutex
	partitions map[topicPartition]*offsetTracker
	ready      map[topicPartition]int64
}

func NewCommitTracker() *CommitTracker {
	return &CommitTracker{
		partitions: make(map[topicPartition]*offsetTracker),
		ready:      make(map[topicPartition]int64),
	}
}

// Track registers a fetched message. Must be called before the message is
// handed to a worker.
func (c *CommitTracker) Track(topic string, partition int, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := topicPartition{topic, partition}
	t, ok := c.partitions[key]
	if !ok {
		t = &offsetTracker{done: make(map[int64]struct{})}
		c.partitions[key] = t
	}
	t.track(offset)
}

// Complete marks a message processed. It reports whether a new offset became
// committable.
func (c *CommitTracker) Complete(topic string, partition int, offset int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := topicPartition{topic, partition}
	t, ok := c.partitions[key]
	if !ok {
		return false
	}
	last, advanced := t.complete(offset)
	if advanced {
		c.ready[key] = last
	}
	return advanced
}

// Drain returns one message per partition carrying the highest committable
// offset, and forgets them.
func (c *CommitTracker) Drain() []kafka.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ready) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(c.ready))
	for key, offset := range c.ready {
		msgs = append(msgs, kafka.Message{Topic: key.topic, Partition: key.partition, Offset: offset})
	}
	clear(c.ready)
	return msgs
}

// InFlight returns the number of tracked messages not yet committable.
func (c *CommitTracker) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.partitions {
		n += len(t.inflight)
	}
	return n
}
