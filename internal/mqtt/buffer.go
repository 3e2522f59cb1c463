package mqtt

// pendingMsg is a serialized message held for replay once the broker is back.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of messages queued while disconnected.
// When full, the oldest message is overwritten. Not safe for concurrent use.
type outbox struct {
	slots   []pendingMsg
	next    int // next write position
	size    int
	dropped int // messages overwritten since the last flush
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{slots: make([]pendingMsg, capacity)}
}

// push queues msg and reports whether an older message had to be dropped.
func (o *outbox) push(msg pendingMsg) bool {
	full := o.size == len(o.slots)
	o.slots[o.next] = msg
	o.next = (o.next + 1) % len(o.slots)
	if full {
		o.dropped++
		return true
	}
	o.size++
	return false
}

// flush returns queued messages oldest first along with the number that were
// dropped, and empties the outbox.
func (o *outbox) flush() ([]pendingMsg, int) {
	if o.size == 0 {
		dropped := o.dropped
		o.dropped = 0
		return nil, dropped
	}

	out := make([]pendingMsg, 0, o.size)
	first := (o.next - o.size + len(o.slots)) % len(o.slots)
	for i := 0; i < o.size; i++ {
		out = append(out, o.slots[(first+i)%len(o.slots)])
	}
	dropped := o.dropped

	o.slots = make([]pendingMsg, len(o.slots))
	o.next, o.size, o.dropped = 0, 0, 0
	return out, dropped
}

func (o *outbox) len() int {
	return o.size
}
