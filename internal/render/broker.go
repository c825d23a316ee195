package render

import "sync"

const subscriberBuffer = 64

// Broker fans out job frames to stream subscribers. Each job is a topic;
// subscribers attaching after frames were published receive the full history
// first, so a client connecting once a job already finished still observes
// its terminal frame.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	history []Frame
	subs    map[chan Frame]struct{}
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscribe returns a channel of frames for jobID plus a cancel function.
// Already-published frames are replayed first. The channel is closed once the
// topic is closed and all frames have been delivered.
func (b *Broker) Subscribe(jobID string) (<-chan Frame, func()) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan Frame]struct{})}
		b.topics[jobID] = t
	}

	ch := make(chan Frame, len(t.history)+subscriberBuffer)
	for _, f := range t.history {
		ch <- f
	}
	if t.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	t.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish records the frame in the topic history and delivers it to current
// subscribers. Slow subscribers that have filled their buffer miss the frame;
// they still see it on a reconnect via history replay.
func (b *Broker) Publish(jobID string, f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan Frame]struct{})}
		b.topics[jobID] = t
	}
	if t.closed {
		return
	}
	t.history = append(t.history, f)
	for ch := range t.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Close marks the job's topic finished and closes all subscriber channels.
// Publishing to a closed topic is a no-op. Idempotent.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan Frame]struct{}), closed: true}
		b.topics[jobID] = t
		return
	}
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
}
