package gc

import "sync/atomic"

// IncRef raises v's strong reference count. A nil v is a no-op. If v's kind
// is cyclic-capable, cyc is bumped too, whether or not v is queued, so it
// stays consistent with rc for whichever scan eventually visits it.
func (c *Collector) IncRef(v Value) {
	if v == nil {
		return
	}

	h := v.Header()

	c.mutexIdleList.Lock()
	h.incRC()

	if !h.NonCyclic() {
		atomic.AddInt32(&h.cyc, 1)
	}

	c.mutexIdleList.Unlock()
}

// DecRef lowers v's strong reference count. A nil v is a no-op. Returns
// true if this call caused v to be enqueued for collection (either freed
// synchronously, for a simple kind, or handed to the idle queue), which is
// the signal the scheduler may want to run.
//
// A member of a genuine reference cycle never reaches rc == 0 through
// ordinary decrefs — the cycle keeps it alive by definition — so a
// cyclic-capable kind is handed to idle on *every* DecRef call, not only
// the one that happens to zero it out. This is the only way such garbage
// is ever found; the scan itself is what proves a candidate dead or alive.
//
// DecRef is the sole trigger for both the incremental scheduler's
// Continue/Switch decision and the concurrent scheduler's mutator throttle.
func (c *Collector) DecRef(v Value) bool {
	if v == nil {
		return false
	}

	h := v.Header()

	c.mutexIdleList.Lock()
	rc := h.decRC()
	c.mutexIdleList.Unlock()

	if rc == 0 {
		if h.NonCyclic() {
			// A genuinely simple kind (int/float/string/...) holds no
			// outbound references and can never join a cycle: there is
			// nothing for a scan to find, so free it now instead of
			// ever queuing it. Under the concurrent scheduler the
			// actual Release call is deferred to idle2/work2 so it
			// happens behind the same mutex swap as the worker's own
			// frees, keeping it off the mutator's critical path; the
			// incremental scheduler has no such worker to hand it to
			// and frees inline.
			if c.conc != nil {
				c.enqueueIdle2(v)
			} else {
				release(v)
			}

			return true
		}

		if lk, ok := v.(listLike); ok && lk.nonCyclicElems() {
			// tuple/list whose element type is statically proven
			// acyclic: break its contents eagerly by direct recursive
			// decref rather than waiting for a scan to discover
			// they're unreachable. The shell itself still falls
			// through to the unconditional enqueue below, same as any
			// other cyclic-capable kind.
			v.Traverse(ModeBreak, func(slot *Value) {
				r := *slot
				*slot = nil
				c.DecRef(r)
			})
		}
	}

	// Simple kinds are never candidates for a scan regardless of whether
	// this particular call brought rc to zero: most DecRef calls on them
	// leave rc positive and hit this return directly, without ever
	// entering the rc == 0 branch above.
	if h.NonCyclic() {
		return false
	}

	if h.delay {
		return false
	}

	c.enqueueIdle(v)
	c.afterEnqueue()

	return true
}

// afterEnqueue notifies whichever scheduler is active that idle grew by one,
// the signal both DecRef's incremental Continue/Switch decision and the
// concurrent worker's wakeup are built on.
func (c *Collector) afterEnqueue() {
	if c.conc != nil {
		c.conc.notifyEnqueue()
		return
	}

	c.incrementalOnDecref()
}

// listLike is satisfied by container kinds that can expose a statically
// proven acyclic element type, letting DecRef recognize the non-cyclic
// container case without importing their concrete types. Map implements it
// but always reports false (its key/value types aren't tracked precisely
// enough to prove acyclicity), so it always takes the generic cyclic-
// capable path.
type listLike interface {
	nonCyclicElems() bool
}

func (c *Collector) enqueueIdle(v Value) {
	c.mutexIdleList.Lock()
	c.idle.push(v)
	c.mutexIdleList.Unlock()
}

func (c *Collector) enqueueIdle2(v Value) {
	c.mutexIdleList.Lock()
	c.idle2.push(v)
	c.mutexIdleList.Unlock()
}

// Assign releases slot's previous occupant and installs new, incrementing
// before decrementing so that Assign(slot, *slot) never transiently drops
// the refcount to zero.
func (c *Collector) Assign(slot *Value, v Value) {
	c.IncRef(v)
	old := *slot
	*slot = v
	c.DecRef(old)
}

// TryDelete requests prompt collection of v without requiring the caller to
// already hold an owning reference: it takes one, then releases it. Safe to
// call on a value other code still owns — in that case rc stays positive
// and nothing happens.
func (c *Collector) TryDelete(v Value) {
	c.IncRef(v)
	c.DecRef(v)
}
