package mqtt

import "log"

// pendingMsg is a serialized message waiting for the broker connection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// lifecycle reports whether m is a system message. Pin events are evicted
// before lifecycle messages when the queue is full.
func (m pendingMsg) lifecycle() bool {
	return m.topic == TopicSystem
}

// offlineQueue holds messages published while the connection was down, in
// publish order, up to a fixed limit. Not safe for concurrent use;
// RealPublisher holds its mutex.
type offlineQueue struct {
	msgs    []pendingMsg
	limit   int
	dropped uint64
	warned  bool // overflow logged since the last drain
}

func newOfflineQueue(limit int) *offlineQueue {
	return &offlineQueue{limit: limit}
}

func (q *offlineQueue) push(m pendingMsg) {
	if len(q.msgs) == q.limit {
		q.evict()
	}
	q.msgs = append(q.msgs, m)
}

// evict drops the oldest pin event, or the oldest message if only
// lifecycle messages are queued.
func (q *offlineQueue) evict() {
	victim := 0
	for i, m := range q.msgs {
		if !m.lifecycle() {
			victim = i
			break
		}
	}
	if !q.warned {
		log.Printf("mqtt: offline buffer full (%d messages), dropping %s", q.limit, q.msgs[victim].topic)
		q.warned = true
	}
	q.msgs = append(q.msgs[:victim], q.msgs[victim+1:]...)
	q.dropped++
}

// drain returns the queued messages oldest first and empties the queue.
func (q *offlineQueue) drain() []pendingMsg {
	if len(q.msgs) == 0 {
		return nil
	}
	out := q.msgs
	q.msgs = nil
	q.warned = false
	return out
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}
