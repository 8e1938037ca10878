package hub

// ring is a fixed-capacity message buffer that evicts oldest-first.
type ring struct {
	buf  []Message
	head int // index of the oldest entry
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Message, capacity)}
}

func (r *ring) push(m Message) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = m
		r.size++
		return
	}
	// Full: overwrite the oldest slot.
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

// items returns the buffered messages oldest-first.
func (r *ring) items() []Message {
	out := make([]Message, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
