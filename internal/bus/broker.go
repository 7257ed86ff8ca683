package bus

import "sync/atomic"

// Broker is the in-process Bus used when every participant lives in one
// host.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber set. Public methods communicate with this loop through
// channels, so no mutexes are required.
type Broker struct {
	subscribeCh   chan chan Envelope
	unsubscribeCh chan chan Envelope
	publishCh     chan Envelope
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its event loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan Envelope),
		unsubscribeCh: make(chan chan Envelope),
		publishCh:     make(chan Envelope, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan Envelope]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case env := <-b.publishCh:
			for ch := range subs {
				select {
				case ch <- env:
				default:
					// Subscriber buffer full; skip to avoid blocking
					// the broker loop.
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close gracefully stops the loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a subscriber and returns its channel. The sender's own
// envelopes are delivered like anyone else's; suppression of self traffic
// is the Adapter's job.
func (b *Broker) Subscribe() chan Envelope {
	ch := make(chan Envelope, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Envelope) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broker) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish hands env to the loop for fan-out. Publishing to a closed broker
// is a silent no-op, matching the fabric's fire-and-forget contract.
func (b *Broker) Publish(env Envelope) error {
	if b.closed.Load() {
		return nil
	}
	select {
	case b.publishCh <- env:
	case <-b.stopped:
	}
	return nil
}
