// Copyright (c) 2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import "testing"

type testBitset [2]uint32

func TestSets(t *testing.T) {
	var t1 testBitset
	t1s := t1[:]

	if BitsetGet(t1s, 0) {
		t.Error("no bits should be set in a newly initialized bitset")
	}

	var i uint
	for i = 0; i < 64; i++ {
		if i%2 == 0 {
			if !BitsetSet(t1s, i, true) {
				t.Error("setting an unset bit should return true")
			}
		}
	}

	if BitsetSet(t1s, 24, true) {
		t.Error("setting an already-set bit should return false")
	}

	for i = 0; i < 64; i++ {
		expected := (i%2 == 0)
		if BitsetGet(t1s, i) != expected {
			t.Errorf("bit %d: got %t, expected %t", i, !expected, expected)
		}
	}

	if !BitsetSet(t1s, 34, false) {
		t.Error("unsetting a set bit should return true")
	}
	if BitsetSet(t1s, 34, false) {
		t.Error("unsetting an already-unset bit should return false")
	}
	if BitsetGet(t1s, 34) {
		t.Error("bit 34 should be unset")
	}

	var t2 testBitset
	t2s := t2[:]
	BitsetCopy(t2s, t1s)
	for i = 0; i < 64; i++ {
		if BitsetGet(t1s, i) != BitsetGet(t2s, i) {
			t.Errorf("bit %d differs after copy", i)
		}
	}

	BitsetClear(t1s)
	if !BitsetEmpty(t1s) {
		t.Error("bitset should be empty after clear")
	}
}
