// Package bufchain implements a fragment-preserving FIFO of byte granules,
// used to absorb host writes behind per-channel SSH-2 flow-control credit
// and to bundle deferred outbound packets before a single socket write.
package bufchain

const granuleSize = 512

type granule struct {
	data         [granuleSize]byte
	bufpos       int // read cursor
	buflen       int // write cursor (bytes valid in data)
	next         *granule
}

// Chain is a singly linked list of fixed-size granules. The zero value is a
// valid, empty Chain.
type Chain struct {
	head, tail *granule
	size       int
}

// Add appends p to the chain, extending the tail granule before allocating
// new ones.
func (c *Chain) Add(p []byte) {
	for len(p) > 0 {
		if c.tail == nil || c.tail.buflen == granuleSize {
			g := &granule{}
			if c.tail == nil {
				c.head = g
			} else {
				c.tail.next = g
			}
			c.tail = g
		}
		n := copy(c.tail.data[c.tail.buflen:], p)
		c.tail.buflen += n
		p = p[n:]
		c.size += n
	}
}

// Size returns the total number of unconsumed bytes.
func (c *Chain) Size() int { return c.size }

// Prefix exposes the first contiguous run of bytes without copying. It is
// never zero-length while Size() > 0.
func (c *Chain) Prefix() []byte {
	if c.head == nil {
		return nil
	}
	return c.head.data[c.head.bufpos:c.head.buflen]
}

// Consume releases n bytes from the head, freeing any granule that becomes
// fully drained. n must not exceed Size().
func (c *Chain) Consume(n int) {
	if n > c.size {
		panic("bufchain: consume exceeds size")
	}
	c.size -= n
	for n > 0 {
		avail := c.head.buflen - c.head.bufpos
		if n < avail {
			c.head.bufpos += n
			return
		}
		n -= avail
		drained := c.head
		c.head = c.head.next
		drained.next = nil
		if c.head == nil {
			c.tail = nil
		}
	}
}

// Clear frees every granule.
func (c *Chain) Clear() {
	c.head = nil
	c.tail = nil
	c.size = 0
}

// Bytes copies every unconsumed byte into a freshly allocated slice. It is a
// convenience for callers that need a contiguous view (e.g. handing a full
// packet payload to a cipher); the hot path should prefer Prefix/Consume.
func (c *Chain) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for g := c.head; g != nil; g = g.next {
		out = append(out, g.data[g.bufpos:g.buflen]...)
	}
	return out
}
