package classifier

import "sync"

// Dispatcher executes posted functions one at a time, in order, on a single
// goroutine. It is the only context allowed to touch the result sink.
type Dispatcher struct {
	fns    chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		fns:  make(chan func(), 64),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for fn := range d.fns {
		fn()
	}
}

// Post schedules fn and reports false once the dispatcher is closed.
// It must not be called from inside a posted function.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.fns <- fn
	return true
}

// Close runs everything already posted and stops the loop.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.fns)
	}
	d.mu.Unlock()
	<-d.done
}
