package sync

import "sync"

// Closer implements a simple one-way signal for coordinating a graceful
// shutdown between goroutines. Close may be called any number of times.
type Closer struct {
	once sync.Once
	done chan struct{}
}

func NewCloser() *Closer {
	return &Closer{done: make(chan struct{})}
}

// Done returns a channel that is closed once Close has been called.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

// Close signals completion. Safe under concurrent callers.
func (c *Closer) Close() {
	c.once.Do(func() { close(c.done) })
}
