package gc

// This file gives the collector a small family of concrete value kinds —
// the ones a minimal dynamic-language VM needs — so the dispatch in
// traverse.go has something real to traverse and the test suite has
// fixtures that exercise every branch of DecRef. A production VM's own
// value kinds live outside this package entirely; the collector only ever
// calls Header and Traverse on them.

// Int is a simple, non-cyclic value kind.
type Int struct {
	h   Header
	Val int64
}

// NewInt constructs an Int with one owning reference.
func NewInt(val int64) *Int {
	return &Int{h: NewHeader(KindInt, TraitNonCyclic), Val: val}
}

// Header implements Value.
func (v *Int) Header() *Header { return &v.h }

// Traverse implements Value; Int holds no outbound references.
func (v *Int) Traverse(Mode, VisitFunc) {}

// Float is a simple, non-cyclic value kind.
type Float struct {
	h   Header
	Val float64
}

// NewFloat constructs a Float with one owning reference.
func NewFloat(val float64) *Float {
	return &Float{h: NewHeader(KindFloat, TraitNonCyclic), Val: val}
}

// Header implements Value.
func (v *Float) Header() *Header { return &v.h }

// Traverse implements Value; Float holds no outbound references.
func (v *Float) Traverse(Mode, VisitFunc) {}

// String is a simple, non-cyclic value kind.
type String struct {
	h   Header
	Val string
}

// NewString constructs a String with one owning reference.
func NewString(val string) *String {
	return &String{h: NewHeader(KindString, TraitNonCyclic), Val: val}
}

// Header implements Value.
func (v *String) Header() *Header { return &v.h }

// Traverse implements Value; String holds no outbound references.
func (v *String) Traverse(Mode, VisitFunc) {}

// List is a variable-length container. It is always cyclic-capable as a
// kind (its Header never carries TraitNonCyclic: a list of lists can form
// a cycle through itself), but when acyclicElems is set — the VM has
// statically proven its declared element type can never hold a reference
// back into anything cyclic-capable, e.g. a list of ints — DecRef clears
// its contents eagerly by direct recursive decref instead of waiting for a
// scan to discover they're unreachable.
type List struct {
	h            Header
	Elems        []Value
	acyclicElems bool
}

// NewList constructs an empty List. elemNonCyclic mirrors the VM's static
// knowledge of the declared element type, not anything about the elements
// actually present.
func NewList(elemNonCyclic bool) *List {
	return &List{h: NewHeader(KindList, 0), acyclicElems: elemNonCyclic}
}

// Header implements Value.
func (v *List) Header() *Header { return &v.h }

// Traverse implements Value, visiting every element slot.
func (v *List) Traverse(mode Mode, visit VisitFunc) {
	for i := range v.Elems {
		visit(&v.Elems[i])
	}
}

// nonCyclicElems satisfies listLike.
func (v *List) nonCyclicElems() bool { return v.acyclicElems }

// Release drops the backing slice once the collector has proven v dead.
func (v *List) Release() { v.Elems = nil }

// Tuple is a fixed-arity sibling of List with the same traversal shape and
// the same element-type acyclicity optimization.
type Tuple struct {
	h            Header
	Elems        []Value
	acyclicElems bool
}

// NewTuple constructs a Tuple of the given arity.
func NewTuple(arity int, elemNonCyclic bool) *Tuple {
	return &Tuple{h: NewHeader(KindTuple, 0), Elems: make([]Value, arity), acyclicElems: elemNonCyclic}
}

// Header implements Value.
func (v *Tuple) Header() *Header { return &v.h }

// Traverse implements Value, visiting every slot.
func (v *Tuple) Traverse(mode Mode, visit VisitFunc) {
	for i := range v.Elems {
		visit(&v.Elems[i])
	}
}

// nonCyclicElems satisfies listLike.
func (v *Tuple) nonCyclicElems() bool { return v.acyclicElems }

// Release drops the backing slice once the collector has proven v dead.
func (v *Tuple) Release() { v.Elems = nil }

// Map is a key/value container. Keys are rarely cyclic in practice but are
// traversed like any other slot; the collector does not special-case them.
type Map struct {
	h    Header
	Keys []Value
	Vals []Value
}

// NewMap constructs an empty Map.
func NewMap() *Map {
	return &Map{h: NewHeader(KindMap, 0)}
}

// Header implements Value.
func (v *Map) Header() *Header { return &v.h }

// Traverse implements Value, visiting every key then every value slot.
func (v *Map) Traverse(mode Mode, visit VisitFunc) {
	for i := range v.Keys {
		visit(&v.Keys[i])
	}
	for i := range v.Vals {
		visit(&v.Vals[i])
	}
}

// nonCyclicElems always reports false: unlike List/Tuple, Map's key and
// value types aren't tracked precisely enough here to prove acyclicity, so
// it never takes the eager-clear shortcut and always falls through to the
// ordinary scan path.
// TODO: once map key/value types carry the same static proof list/tuple
// element types do, mirror the optimization here.
func (v *Map) nonCyclicElems() bool { return false }

// Release drops the backing slices once the collector has proven v dead.
func (v *Map) Release() {
	v.Keys, v.Vals = nil, nil
}

// Put appends a key/value pair. Not safe for concurrent use without holding
// LockMap around it.
func (v *Map) Put(key, val Value) {
	v.Keys = append(v.Keys, key)
	v.Vals = append(v.Vals, val)
}

// Namespace holds the variable bindings of an imported module and
// participates in the Deregister phase via the collector's Registry.
type Namespace struct {
	h    Header
	Name string
	Vars []Value
}

// NewNamespace constructs a Namespace and registers it, matching how an
// import statement would make the module externally reachable.
func NewNamespace(name string, reg *Registry) *Namespace {
	ns := &Namespace{h: NewHeader(KindNamespace, 0), Name: name}
	if reg != nil {
		reg.Register(ns)
	}
	return ns
}

// Header implements Value.
func (v *Namespace) Header() *Header { return &v.h }

// Traverse implements Value, visiting every bound variable's slot.
func (v *Namespace) Traverse(mode Mode, visit VisitFunc) {
	for i := range v.Vars {
		visit(&v.Vars[i])
	}
}

// Release drops the backing slice once the collector has proven v dead.
func (v *Namespace) Release() { v.Vars = nil }

// Type describes the shape of another value kind (field layout, element
// type). It holds no outbound references of its own.
type Type struct {
	h    Header
	Name string
}

// NewType constructs a Type descriptor. Types are cyclic-capable: a
// recursive or mutually-referential type definition can point back at
// itself through a field or element type, so Type is not marked
// non-cyclic even though this minimal fixture gives it no outbound slots.
func NewType(name string) *Type {
	return &Type{h: NewHeader(KindType, 0), Name: name}
}

// Header implements Value.
func (v *Type) Header() *Header { return &v.h }

// Traverse implements Value; Type holds no outbound references.
func (v *Type) Traverse(Mode, VisitFunc) {}
