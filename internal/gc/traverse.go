package gc

import (
	"sync/atomic"

	"github.com/sklli/daovm/internal/errors"
)

// cycRefDec implements the CycRefDec phase for a single object popped from
// work: every outbound reference that can participate in a cycle has its
// cyc scratch counter lowered by one, and if this is the first time the
// referent has been seen this scan it is pushed onto work itself so the
// phase eventually visits every member of the work set's closure.
//
// Referents carrying the NonCyclic trait (simple values) are skipped
// entirely: they cannot be part of a cycle and must never have their cyc
// field touched. Containers never carry the trait and are always visited.
func (c *Collector) cycRefDec(v Value) {
	h := v.Header()
	if !h.work {
		h.work = true
		h.cyc = h.RC()
	}

	c.scanContainer(v, func() {
		v.Traverse(ModeDec, func(slot *Value) {
			r := *slot
			if r == nil {
				return
			}

			rh := r.Header()
			if rh.NonCyclic() {
				return
			}

			if !rh.work {
				rh.work = true
				rh.cyc = rh.RC()
				c.work.push(r)
			}

			rh.cyc--
			if rh.cyc < 0 {
				atomic.AddUint64(&c.stats.NegativeCycClamps, 1)
				c.logf("gc: %s", errors.RefcountUnderflow(rh.Kind.String()).Error())
				rh.cyc = 0
			}
		})
	})
}

// cycRefInc implements the CycRefInc phase: starting from objects whose cyc
// remained positive after CycRefDec (proof that something outside the work
// set still points at them), walk outward marking everything reachable
// alive. alive objects are removed from further consideration by Free.
func (c *Collector) cycRefInc(v Value) {
	h := v.Header()
	if h.alive {
		return
	}

	h.alive = true

	c.scanContainer(v, func() {
		v.Traverse(ModeInc, func(slot *Value) {
			r := *slot
			if r == nil {
				return
			}

			rh := r.Header()
			if rh.NonCyclic() || !rh.work {
				return
			}

			rh.cyc++
			if !rh.alive {
				c.cycRefInc(r)
			}
		})
	})
}

// refDec implements the RefDec phase: for a proven-dead object, every
// outbound slot is nulled and the referent's rc is dropped directly,
// bypassing DecRef so the collector never re-enters its own scheduling
// logic while already mid-scan.
//
// A referent that hits zero here and is a simple kind is released on the
// spot. A referent that hits zero and is cyclic-capable is never enqueued
// from here: by construction it was already discovered and pushed onto
// work by this same cycle's CycRefDec pass (anything reachable from a work
// member was), so it will get its own turn in phaseRefDec's loop over work,
// and its own free-list entry in phaseFree. Enqueueing it again here would
// free it twice.
func (c *Collector) refDec(v Value) {
	c.scanContainer(v, func() {
		v.Traverse(ModeBreak, func(slot *Value) {
			r := *slot
			*slot = nil
			if r == nil {
				return
			}

			rh := r.Header()
			rc := rh.decRC()
			if rc == 0 && rh.NonCyclic() {
				release(r)
			}
		})
	})
}
