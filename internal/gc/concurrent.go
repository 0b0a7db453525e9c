package gc

import "time"

// mutatorThrottle is how long a mutator's DecRef call sleeps when the idle
// queue has grown past gcMax, giving the worker goroutine a chance to catch
// up instead of letting garbage accumulate without bound while the worker
// is busy with a scan.
const mutatorThrottle = time.Millisecond

// concurrentState runs the collector's scan driver on a dedicated
// goroutine, synchronized with mutators through mutexIdleList (for the
// idle/idle2 swap) and dataLock/scanning (for container traversal) rather
// than condition variables — a channel-based wake signal does the same job
// with less ceremony.
type concurrentState struct {
	c    *Collector
	wake chan struct{}
	done chan struct{}
	exit chan struct{}
}

func newConcurrentState(c *Collector) *concurrentState {
	return &concurrentState{
		c:    c,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		exit: make(chan struct{}),
	}
}

// run launches the worker goroutine. Call once.
func (s *concurrentState) run() {
	go s.loop()
}

func (s *concurrentState) loop() {
	defer close(s.exit)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.c.mutexIdleList.Lock()
		n := s.c.idle.len()
		s.c.mutexIdleList.Unlock()

		if n < s.c.gcMin {
			continue
		}

		s.c.scanCycle()
	}
}

// notifyEnqueue wakes the worker if it is sleeping and, if the idle queue
// has grown past gcMax, briefly throttles the calling mutator so garbage
// cannot pile up faster than the worker can plausibly keep pace with.
func (s *concurrentState) notifyEnqueue() {
	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.c.mutexIdleList.Lock()
	n := s.c.idle.len()
	s.c.mutexIdleList.Unlock()

	if n >= s.c.gcMax {
		time.Sleep(mutatorThrottle)
	}
}

// stop signals the worker to exit and blocks until it has, so Finish can
// safely drain the remaining queues on the caller's own goroutine
// afterward without racing a scan still in flight.
func (s *concurrentState) stop() {
	close(s.done)
	<-s.exit
}
