package model

import "testing"

func TestDependencyIntersectsPoint(t *testing.T) {
	d := Dependency{Kind: DependencyPoint, Contract: "c1", KeyOrPfx: "1,2,3"}
	if !d.Intersects("c1", "1,2,3") {
		t.Fatal("expected exact key match to intersect")
	}
	if d.Intersects("c1", "1,2,3,4") {
		t.Fatal("point dependency must not match a longer key sharing its prefix")
	}
	if d.Intersects("other", "1,2,3") {
		t.Fatal("different contract must not intersect")
	}
}

func TestDependencyIntersectsPrefix(t *testing.T) {
	d := Dependency{Kind: DependencyPrefix, Contract: "c1", KeyOrPfx: "1,2"}
	if !d.Intersects("c1", "1,2,3") {
		t.Fatal("expected prefix match to intersect a longer key")
	}
	if !d.Intersects("c1", "1,2") {
		t.Fatal("expected exact-length prefix match to intersect")
	}
	if d.Intersects("c1", "1,3") {
		t.Fatal("non-matching prefix must not intersect")
	}
}

func TestStateAdvanceIsMonotonic(t *testing.T) {
	var s State
	s.Advance(10, 1000)
	s.Advance(5, 500)
	if s.LatestBlockHeight != 10 || s.LatestBlockTimeUnixMs != 1000 {
		t.Fatalf("state regressed: %+v", s)
	}
	s.Advance(20, 2000)
	if s.LatestBlockHeight != 20 || s.LatestBlockTimeUnixMs != 2000 {
		t.Fatalf("state did not advance: %+v", s)
	}
}
