package gc

import "testing"

func TestSimpleKindsAreNonCyclic(t *testing.T) {
	for _, v := range []Value{NewInt(1), NewFloat(1.5), NewString("x")} {
		if !v.Header().NonCyclic() {
			t.Errorf("%s should be non-cyclic", v.Header().Kind)
		}
	}
}

func TestContainerKindsAreNeverNonCyclic(t *testing.T) {
	for _, v := range []Value{NewList(true), NewTuple(2, true), NewMap(), NewType("T")} {
		if v.Header().NonCyclic() {
			t.Errorf("%s must never carry TraitNonCyclic: the kind itself can always form a cycle", v.Header().Kind)
		}
	}
}

func TestListTraverseVisitsEverySlot(t *testing.T) {
	a, b := NewInt(1), NewInt(2)
	l := NewList(true)
	l.Elems = []Value{a, b}

	var seen []Value
	l.Traverse(ModeDec, func(slot *Value) { seen = append(seen, *slot) })

	if len(seen) != 2 || seen[0] != Value(a) || seen[1] != Value(b) {
		t.Fatalf("Traverse visited %v, want [a b]", seen)
	}
}

func TestMapTraverseVisitsKeysThenValues(t *testing.T) {
	k, v := NewString("k"), NewInt(1)
	m := NewMap()
	m.Put(k, v)

	var seen []Value
	m.Traverse(ModeDec, func(slot *Value) { seen = append(seen, *slot) })

	if len(seen) != 2 || seen[0] != Value(k) || seen[1] != Value(v) {
		t.Fatalf("Traverse visited %v, want [k v]", seen)
	}
}

func TestListNonCyclicElemsReflectsConstructor(t *testing.T) {
	if !NewList(true).nonCyclicElems() {
		t.Fatal("NewList(true) should report nonCyclicElems() == true")
	}
	if NewList(false).nonCyclicElems() {
		t.Fatal("NewList(false) should report nonCyclicElems() == false")
	}
}

func TestMapNeverReportsNonCyclicElems(t *testing.T) {
	if NewMap().nonCyclicElems() {
		t.Fatal("Map does not implement the acyclic-element optimization yet")
	}
}
