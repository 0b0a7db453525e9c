package gc

import "testing"

func TestIncrementalTickCollectsGarbageCycle(t *testing.T) {
	c := newCollector(t)

	a, b := NewMap(), NewMap()
	c.IncRef(b)
	a.Put(nil, b)
	c.IncRef(a)
	b.Put(nil, a)

	c.DecRef(a)
	c.DecRef(b)

	// incrementalOnDecref already ran as part of those two DecRef calls,
	// but the counter reload (1000) means neither triggered a tick yet.
	// Force one directly, the way a 1000th DecRef eventually would.
	c.incrementalTick(false)

	if a.h.RC() != 0 || b.h.RC() != 0 {
		t.Fatalf("rc(a)=%d rc(b)=%d after tick, want 0 and 0", a.h.RC(), b.h.RC())
	}
}

func TestIncrementalOnDecrefReloadsShorterUnderPressure(t *testing.T) {
	c := newCollector(t)
	c.gcMax = 1

	v := NewMap()
	// simulate idle already over gcMax (2 > 1) before this decref
	c.idle.push(v)
	c.idle.push(NewMap())
	// this decref is the one that runs the counter out
	c.incr.counter = 1

	c.incrementalOnDecref()

	if c.incr.counter != 100 {
		t.Fatalf("counter = %d, want 100 when idle exceeds gcMax", c.incr.counter)
	}
}

func TestIncrementalOnDecrefReloadsNormally(t *testing.T) {
	c := newCollector(t)
	// this decref is the one that runs the counter out
	c.incr.counter = 1

	c.incrementalOnDecref()

	if c.incr.counter != 1000 {
		t.Fatalf("counter = %d, want 1000 under normal pressure", c.incr.counter)
	}
}

func TestFinishDrainsEverything(t *testing.T) {
	c := newCollector(t)

	a, b := NewMap(), NewMap()
	c.IncRef(b)
	a.Put(nil, b)
	c.IncRef(a)
	b.Put(nil, a)
	c.DecRef(a)
	c.DecRef(b)

	c.Finish()

	if c.started {
		t.Fatal("Finish should leave the collector stopped")
	}
}
