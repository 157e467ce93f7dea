package supervisor

import "sync"

// subscriberBufferSize is the channel buffer for each frame subscriber.
// Messages are dropped if a subscriber falls this far behind; the gap shows
// up as a jump in Seq and can be refilled from the store.
const subscriberBufferSize = 64

// FrameMessage is one persisted frame as seen by stream subscribers.
type FrameMessage struct {
	Seq int64
	// Data is the JSON encoding of the model.FrameRecord.
	Data []byte
}

// FrameBroker fans out the frames of live runs to stream subscribers.
// It is safe for concurrent use.
//
// A run has a topic from Open until Close. Subscribing to a run without a
// topic, because it finished or was never started by this process, yields a
// closed channel, so finished runs leave nothing behind.
type FrameBroker struct {
	mu     sync.Mutex
	topics map[string]*frameTopic
}

type frameTopic struct {
	subs    map[int]chan FrameMessage
	nextID  int
	lastSeq int64
}

// NewFrameBroker creates an empty broker.
func NewFrameBroker() *FrameBroker {
	return &FrameBroker{
		topics: make(map[string]*frameTopic),
	}
}

// Open starts the topic of a run. Opening an open topic is a no-op.
func (b *FrameBroker) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[runID]; ok {
		return
	}
	b.topics[runID] = &frameTopic{subs: make(map[int]chan FrameMessage), lastSeq: -1}
}

// Subscribe returns a channel that receives the frames of runID published
// from now on, and an unsubscribe function. The channel is closed when the
// run ends, or immediately if the run has no open topic.
func (b *FrameBroker) Subscribe(runID string) (<-chan FrameMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan FrameMessage, subscriberBufferSize)
	t, ok := b.topics[runID]
	if !ok {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends frame seq of runID to every subscriber. It never blocks;
// slow subscribers miss messages. A seq at or below the last published one
// is ignored so subscribers always see increasing sequence numbers.
func (b *FrameBroker) Publish(runID string, seq int64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || seq <= t.lastSeq {
		return
	}
	t.lastSeq = seq

	msg := FrameMessage{Seq: seq, Data: data}
	for _, ch := range t.subs {
		select {
		case ch <- msg:
		default:
			brokerDropped.Inc()
		}
	}
}

// Close ends the topic of runID and closes every subscriber channel.
func (b *FrameBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		return
	}
	delete(b.topics, runID)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Topics returns the number of runs with an open topic.
func (b *FrameBroker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Subscribers returns the number of subscribers across all open topics.
func (b *FrameBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, t := range b.topics {
		n += len(t.subs)
	}
	return n
}
