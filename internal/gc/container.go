package gc

// scanContainer runs fn (a Traverse call) with dataLock held and scanning
// pointed at v, so a concurrent mutator's LockArray/LockMap call on the
// same container blocks until the collector is done enumerating its slots.
// In incremental mode there is no worker to race with, so this degrades to
// a plain call.
func (c *Collector) scanContainer(v Value, fn func()) {
	if c.conc == nil {
		fn()
		return
	}

	c.dataLock.Lock()
	c.scanning.Store(&containerHandle{v: v})
	fn()
	c.scanning.Store(nil)
	c.dataLock.Unlock()
}

// LockArray must be held by the mutator around any in-place mutation of a
// shared array/list's element slots (as opposed to going through Assign),
// so a concurrently running collector worker never observes a half-written
// slot while traversing the same container.
func (c *Collector) LockArray(v Value) { c.dataLock.Lock() }

// UnlockArray releases a lock taken by LockArray.
func (c *Collector) UnlockArray(v Value) { c.dataLock.Unlock() }

// LockMap is LockArray's counterpart for map-kind containers.
func (c *Collector) LockMap(v Value) { c.dataLock.Lock() }

// UnlockMap releases a lock taken by LockMap.
func (c *Collector) UnlockMap(v Value) { c.dataLock.Unlock() }
