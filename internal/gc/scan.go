package gc

import (
	"sync/atomic"

	"github.com/sklli/daovm/internal/errors"
)

// scanCycle runs the six-phase driver once: Prepare, CycRefDec, Deregister,
// CycRefInc, RefDec, Free. Both schedulers call this directly — the
// incremental one synchronously inline on the mutator goroutine, the
// concurrent one from its dedicated worker — the only difference between
// the two is who calls it and how the work is budgeted around the call,
// not what the call does.
func (c *Collector) scanCycle() {
	c.prepare()
	c.phaseCycRefDec()
	c.phaseDeregister()
	c.phaseCycRefInc()
	c.phaseRefDec()
	freed := c.phaseFree()

	atomic.AddUint64(&c.stats.Cycles, 1)
	if freed > 0 {
		atomic.AddUint64(&c.stats.CyclesDetected, 1)
	}
	atomic.AddUint64(&c.stats.ObjectsFreed, uint64(freed))

	c.mdelete = 0.5*c.mdelete + 0.5*float64(freed)
}

// prepare swaps idle into work (and idle2 into work2, for the concurrent
// simple-value bulk-free path), folds in the whole delay queue when this is
// a full cycle or the damping schedule comes due (and none of it
// otherwise), and resets each work member's per-cycle scratch state.
func (c *Collector) prepare() {
	c.mutexIdleList.Lock()
	swap(c.idle, c.work)
	swap(c.idle2, c.work2)
	c.mutexIdleList.Unlock()

	c.cycle++

	full := c.cycle%FullGCScanCycle == 0

	// delay2 shrinks the gap between drains as the recent delete rate
	// (mdelete) climbs: with mdelete 0 the delay queue drains every 101
	// cycles, and a collector busy freeing a lot of garbage drains it more
	// often, deferring delay-marked objects less.
	delay2 := c.cycle % uint32(1+int(100/(1+c.mdelete)))

	if full || delay2 == 0 {
		for _, v := range c.delay.items {
			v.Header().delay = false
			c.work.push(v)
		}
		c.delay.reset()
	}

	for _, v := range c.work.items {
		h := v.Header()
		h.work = true
		h.alive = false
		h.cyc = h.RC()
	}
}

// phaseCycRefDec runs CycRefDec over the work set. The loop re-reads
// c.work.len() every iteration because cycRefDec appends newly discovered
// members to the same queue as it runs.
func (c *Collector) phaseCycRefDec() {
	for i := 0; i < c.work.len(); i++ {
		c.cycRefDec(c.work.items[i])
	}
}

// phaseDeregister removes any namespace-kind object whose cyc reached zero
// from the external module registry before CycRefInc runs, so a dying
// namespace cannot be resurrected by the registry's own bookkeeping acting
// as an undeclared root.
func (c *Collector) phaseDeregister() {
	if c.registry == nil {
		return
	}

	for _, v := range c.work.items {
		h := v.Header()
		if h.Kind == KindNamespace && h.cyc == 0 {
			c.registry.Deregister(v)
		}
	}
}

// phaseCycRefInc walks outward from every work member that still has a
// positive cyc — proof some reference into it survives from outside the
// work set — marking everything it can reach alive.
func (c *Collector) phaseCycRefInc() {
	for _, v := range c.work.items {
		if v.Header().cyc > 0 {
			c.cycRefInc(v)
		}
	}
}

// phaseRefDec dismantles every work member CycRefInc did not reach: their
// outbound slots are nulled and neighbour refcounts dropped directly. This
// must run to completion as its own pass over every dead member before
// anything checks a member's final rc — two dead members that reference
// each other each need the other's slot nulled before either's rc reads
// zero, so Free (which does the rc check) has to be a separate phase run
// strictly after this one finishes, not interleaved with it.
//
// Each member's dismantle is wrapped in mutexIdleList, the same lock IncRef
// takes to bump both rc and cyc. Under concurrent mode a mutator can only
// legally IncRef a work-flagged member it already held a reference to, so if
// one lands between CycRefInc deciding this member was unreachable and here,
// cyc is bumped off zero again — taking the lock before the live recheck
// guarantees we observe that bump rather than dismantling a value out from
// under a reference the mutator just took. Skip the dismantle entirely in
// that case; a member proven alive by a late IncRef is handled exactly like
// one CycRefInc itself reached.
func (c *Collector) phaseRefDec() {
	for _, v := range c.work.items {
		h := v.Header()
		if h.alive || h.delay {
			continue
		}

		c.mutexIdleList.Lock()
		reprieved := h.loadCyc() > 0
		if !reprieved {
			c.refDec(v)
		}
		c.mutexIdleList.Unlock()

		if reprieved {
			h.alive = true
		}
	}
}

// phaseFree classifies and releases every work member, plus any simple
// values the mutator deferred to idle2/work2 while concurrent mode was
// active. A member CycRefInc proved alive is left live (optionally
// re-deferred to delay); a dismantled member whose own rc still isn't zero
// — proof some reference into it was missed, which should be impossible if
// every cyclic-capable referent is tracked correctly — is logged and given
// one more cycle via delay rather than freed outright. Type-kind objects
// are released last: other dead objects' Release implementations may still
// want to consult their own type's shape while tearing down.
func (c *Collector) phaseFree() int {
	freed := 0

	for _, v := range c.work2.items {
		release(v)
		freed++
	}
	c.work2.reset()

	var types []Value
	for _, v := range c.work.items {
		h := v.Header()
		h.work = false

		if h.alive {
			h.alive = false
			if h.delayPreferred() {
				h.delay = true
				c.delay.push(v)
			}
			continue
		}

		if h.RC() != 0 {
			atomic.AddUint64(&c.stats.LeakedOnFree, 1)
			c.logf("gc: %s", errors.RefcountLeaked(h.Kind.String(), h.RC()).Error())
			h.delay = true
			c.delay.push(v)
			continue
		}

		if h.Kind == KindType {
			types = append(types, v)
			continue
		}

		c.free.push(v)
	}

	for _, v := range c.free.items {
		release(v)
		freed++
	}
	c.free.reset()

	for _, v := range types {
		release(v)
		freed++
	}

	c.work.reset()

	return freed
}
