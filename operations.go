package mediabridge

import "sync"

type operation func()

// operations runs callbacks one at a time, in submission order, on its own
// goroutine. Nothing it runs holds Session.mu.
type operations struct {
	mu     sync.Mutex
	queue  []operation
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newOperations() *operations {
	o := &operations{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue adds op. Operations enqueued after close are discarded.
func (o *operations) Enqueue(op operation) {
	if op == nil {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, op)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting operations. Already queued operations still run;
// Done is closed after the last one returned. Close may be called from an
// operation.
func (o *operations) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *operations) Done() <-chan struct{} {
	return o.done
}

func (o *operations) pop() (operation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 {
		return nil, o.closed
	}
	op := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return op, false
}

func (o *operations) run() {
	defer close(o.done)
	for {
		op, closed := o.pop()
		if op != nil {
			op()
			continue
		}
		if closed {
			return
		}
		<-o.wake
	}
}
