// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package irc

import (
	"testing"
)

func TestUserMaskSet(t *testing.T) {
	s := NewUserMaskSet()

	if s.Match("horse!~evan@tor-network.onion") {
		t.Errorf("empty set should not match anything")
	}

	if !s.Add("*!~evan@*") {
		t.Errorf("failed to add a valid mask")
	}
	if !s.Match("horse!~evan@tor-network.onion") {
		t.Errorf("expected Match() failed")
	}
	if s.Match("horse!~horse@tor-network.onion") {
		t.Errorf("unexpected Match() succeeded")
	}

	if s.Add("*!~evan@*") {
		t.Errorf("re-adding a mask should report no change")
	}
	if s.Length() != 1 {
		t.Errorf("expected 1 mask, got %d", s.Length())
	}

	s.Add("?az@*")
	if !s.Match("baz@x") {
		t.Errorf("? should match a single character")
	}
	if s.Match("bbaz@x") {
		t.Errorf("? should not match multiple characters")
	}

	if !s.Remove("*!~evan@*") {
		t.Errorf("failed to remove a present mask")
	}
	if s.Match("horse!~evan@tor-network.onion") {
		t.Errorf("mask should be gone")
	}
	if s.Remove("*!~evan@*") {
		t.Errorf("removing an absent mask should report no change")
	}

	masks := s.Masks()
	if len(masks) != 1 || masks[0] != "?az@*" {
		t.Errorf("unexpected mask list %v", masks)
	}
}
