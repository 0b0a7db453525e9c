// Package gc implements the VM's hybrid reference-counted and
// cycle-detecting garbage collector.
//
// Every managed value embeds a Header (rc, cyc, work/alive/delay bits, kind
// tag and static traits). Ordinary mutation goes through IncRef / DecRef /
// Assign, which never allocate and never block for longer than a mutex
// acquisition. Cycles are found and broken by a six-phase scan driver
// (Prepare, CycRefDec, Deregister, CycRefInc, RefDec, Free) that the
// Collector runs either incrementally, a bounded slice per DecRef call on
// the mutator's own goroutine, or concurrently, on a dedicated worker
// goroutine synchronized with mutators through mutexIdleList and a single
// container data lock, which LockArray/LockMap take on every call.
//
// Value kinds outside this package (lists, maps, classes, routines, ...)
// are black boxes: the collector only ever calls their Header and Traverse
// methods.
package gc
