package gc

import "sync/atomic"

// Kind tags the dynamic type of a managed value. It drives the traversal
// dispatch table in traverse.go; collector code never type-switches on a
// Go concrete type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindList
	KindTuple
	KindMap
	KindNamespace
	KindType
)

// String names a kind for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "map"
	case KindNamespace:
		return "namespace"
	case KindType:
		return "type"
	default:
		return "invalid"
	}
}

// Traits are static, per-kind-instance flags that never change over an
// object's lifetime.
type Traits uint8

const (
	// TraitNonCyclic marks a value whose kind cannot participate in a
	// reference cycle (numbers, strings and the other simple kinds; container
	// kinds never carry it, even a list whose elements are all acyclic).
	// decref to zero frees it immediately
	// instead of routing it through a scan cycle.
	TraitNonCyclic Traits = 1 << iota
	// TraitDelayGC asks the scheduler to prefer deferring this object to
	// a later, non-full cycle rather than scanning it promptly.
	TraitDelayGC
)

func (t Traits) has(f Traits) bool { return t&f != 0 }

// Header is embedded as the first field of every managed value. Outside a
// scan, only Kind, Traits and rc are meaningful; cyc/work/alive/delay are
// collector scratch state. The scan driver writes all four; outside it,
// IncRef also bumps cyc (atomically, under mutexIdleList) and DecRef reads
// delay. Ordinary mutator logic never touches them directly.
type Header struct {
	Kind   Kind
	Traits Traits

	rc  int32 // strong reference count, maintained with atomic ops
	cyc int32 // cycle-scratch count, valid only during a scan

	work  bool // in this cycle's work queue
	alive bool // proven live by CycRefInc this cycle
	delay bool // sitting in the delay queue rather than idle/work
}

// NewHeader initializes a header for a freshly constructed value with the
// constructor's owning reference (rc == 1).
func NewHeader(kind Kind, traits Traits) Header {
	return Header{Kind: kind, Traits: traits, rc: 1}
}

// RC returns the current strong reference count.
func (h *Header) RC() int32 { return atomic.LoadInt32(&h.rc) }

// NonCyclic reports whether the value's kind can never participate in a
// cycle, per its static traits.
func (h *Header) NonCyclic() bool { return h.Traits.has(TraitNonCyclic) }

func (h *Header) delayPreferred() bool { return h.Traits.has(TraitDelayGC) }

func (h *Header) incRC() int32 { return atomic.AddInt32(&h.rc, 1) }

func (h *Header) decRC() int32 { return atomic.AddInt32(&h.rc, -1) }

// loadCyc reads cyc with the same atomicity IncRef uses to bump it, for the
// live re-check RefDec does immediately before dismantling a work member —
// see phaseRefDec.
func (h *Header) loadCyc() int32 { return atomic.LoadInt32(&h.cyc) }
