package gc

import "sync/atomic"

// incrementalPhase names where a single scan cycle currently is when it is
// being stepped across many DecRef-triggered ticks instead of run to
// completion in one call.
type incrementalPhase int

const (
	incrIdle incrementalPhase = iota
	incrDec
	incrDeregister
	incrInc
	incrRefDec
	incrFree
)

// incrementalState is the scheduler state for incremental mode: a
// down-counter that gates how often DecRef bothers checking in at all, plus
// the phase/cursor pair that lets a single scan cycle span many of those
// check-ins without ever blocking a mutator for the whole cycle.
type incrementalState struct {
	counter int
	phase   incrementalPhase
	cursor  int
}

// incrementalOnDecref is called by DecRef once per successful enqueue when
// no concurrent worker is installed. The counter reload is shortened under
// idle-queue pressure (gcMax) so a burst of garbage gets scanned sooner
// rather than waiting out the normal 1000-decref interval.
func (c *Collector) incrementalOnDecref() {
	c.incr.counter--
	if c.incr.counter > 0 {
		return
	}

	if c.idle.len() > c.gcMax {
		c.incr.counter = 100
	} else {
		c.incr.counter = 1000
	}

	c.incrementalTick(false)
}

// incrementalTick advances the scan state machine. With drain false it
// performs at most one bounded slice of CycRefDec work (sized to
// max(gcMin, work.size/4)) before returning control to the mutator; the
// non-interruptible phases (Deregister, CycRefInc, RefDec, Free) run to
// completion once the state machine reaches them. With drain true — used only by Finish — budgeting is ignored entirely and the
// whole backlog is processed before returning.
func (c *Collector) incrementalTick(drain bool) {
	for {
		switch c.incr.phase {
		case incrIdle:
			if c.idle.len() == 0 && c.delay.len() == 0 {
				return
			}
			c.prepare()
			c.incr.cursor = 0
			c.incr.phase = incrDec

		case incrDec:
			budget := c.gcMin
			if w := c.work.len() / 4; w > budget {
				budget = w
			}

			n := 0
			for c.incr.cursor < c.work.len() && (drain || n < budget) {
				c.cycRefDec(c.work.items[c.incr.cursor])
				c.incr.cursor++
				n++
			}

			if c.incr.cursor >= c.work.len() {
				c.incr.phase = incrDeregister
			} else if !drain {
				return
			}

		case incrDeregister:
			c.phaseDeregister()
			c.incr.phase = incrInc

		case incrInc:
			c.phaseCycRefInc()
			c.incr.phase = incrRefDec

		case incrRefDec:
			c.phaseRefDec()
			c.incr.phase = incrFree

		case incrFree:
			freed := c.phaseFree()
			atomic.AddUint64(&c.stats.Cycles, 1)
			if freed > 0 {
				atomic.AddUint64(&c.stats.CyclesDetected, 1)
			}
			atomic.AddUint64(&c.stats.ObjectsFreed, uint64(freed))
			c.mdelete = 0.5*c.mdelete + 0.5*float64(freed)

			c.incr.phase = incrIdle
			if !drain {
				return
			}
		}
	}
}
