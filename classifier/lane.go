package classifier

import "sync"

// Lane runs one model's tasks on its own goroutine. At most one task waits
// behind the running one: submitting again replaces the waiting task, so a
// slow model only ever runs its newest request next.
type Lane struct {
	mu      sync.Mutex
	pending func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func NewLane() *Lane {
	l := &Lane{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *Lane) loop() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			task := l.pending
			l.pending = nil
			l.mu.Unlock()
			if task == nil {
				break
			}
			task()
		}
	}
}

// Submit never blocks. It reports whether a waiting task was replaced, and
// ok=false once the lane is closed.
func (l *Lane) Submit(task func()) (replaced, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, false
	}
	replaced = l.pending != nil
	l.pending = task
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return replaced, true
}

// Close stops accepting tasks, runs the waiting one if any and returns once
// the lane goroutine has exited.
func (l *Lane) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.wake)
	}
	l.mu.Unlock()
	<-l.done
}
