// Copyright (c) 2018 Shivaram Lingamneni
// released under the MIT license

package modes

import (
	"reflect"
	"testing"
)

func TestParseChannelModeChanges(t *testing.T) {
	changes, unknown := ParseChannelModeChanges("+o", "wrmsr")
	if len(unknown) > 0 {
		t.Errorf("unexpected unknown mode change: %v", unknown)
	}
	expected := ModeChange{
		Op:   Add,
		Mode: ChannelOperator,
		Arg:  "wrmsr",
	}
	if len(changes) != 1 || changes[0] != expected {
		t.Errorf("unexpected mode change: %v", changes)
	}

	changes, unknown = ParseChannelModeChanges("-v", "shivaram")
	if len(unknown) > 0 {
		t.Errorf("unexpected unknown mode change: %v", unknown)
	}
	expected = ModeChange{
		Op:   Remove,
		Mode: Voice,
		Arg:  "shivaram",
	}
	if len(changes) != 1 || changes[0] != expected {
		t.Errorf("unexpected mode change: %v", changes)
	}

	changes, unknown = ParseChannelModeChanges("+tx")
	if len(unknown) != 1 || !unknown['x'] {
		t.Errorf("expected that x is an unknown mode, instead: %v", unknown)
	}
	expected = ModeChange{
		Op:   Add,
		Mode: OpOnlyTopic,
		Arg:  "",
	}
	if len(changes) != 1 || changes[0] != expected {
		t.Errorf("unexpected mode change: %v", changes)
	}

	changes, unknown = ParseChannelModeChanges("+kl", "secret", "12")
	if len(unknown) > 0 {
		t.Errorf("unexpected unknown mode change: %v", unknown)
	}
	if len(changes) != 2 || changes[0].Arg != "secret" || changes[1].Arg != "12" {
		t.Errorf("unexpected changes: %v", changes)
	}

	// removing a key doesn't consume an argument
	changes, _ = ParseChannelModeChanges("-k")
	if len(changes) != 1 || changes[0].Op != Remove || changes[0].Arg != "" {
		t.Errorf("unexpected changes: %v", changes)
	}

	// a bare +b lists the ban masks instead of setting one
	changes, _ = ParseChannelModeChanges("+b")
	if len(changes) != 1 || changes[0].Op != List {
		t.Errorf("unexpected changes: %v", changes)
	}
}

func TestParseUserModeChanges(t *testing.T) {
	changes, unknown := ParseUserModeChanges("+i")
	if len(unknown) > 0 {
		t.Errorf("unexpected unknown mode change: %v", unknown)
	}
	if len(changes) != 1 || changes[0].Mode != Invisible || changes[0].Op != Add {
		t.Errorf("unexpected changes: %v", changes)
	}

	changes, unknown = ParseUserModeChanges("-w+s")
	if len(unknown) > 0 {
		t.Errorf("unexpected unknown mode change: %v", unknown)
	}
	expected := ModeChanges{
		{Mode: WallOps, Op: Remove},
		{Mode: ServerNotice, Op: Add},
	}
	if !reflect.DeepEqual(changes, expected) {
		t.Errorf("unexpected changes: %v", changes)
	}

	_, unknown = ParseUserModeChanges("+Z")
	if len(unknown) != 1 || !unknown['Z'] {
		t.Errorf("expected that Z is an unknown mode, instead: %v", unknown)
	}
}

func TestSetMode(t *testing.T) {
	set := NewModeSet()

	if applied := set.SetMode(Invisible, false); applied != false {
		t.Errorf("all modes should be false by default")
	}

	if applied := set.SetMode(Invisible, true); applied != true {
		t.Errorf("initial SetMode call should return true")
	}

	set.SetMode(Operator, true)

	if applied := set.SetMode(Invisible, true); applied != false {
		t.Errorf("redundant SetMode call should return false")
	}

	expected := []Mode{Invisible, Operator}
	if allModes := set.AllModes(); !reflect.DeepEqual(allModes, expected) {
		t.Errorf("unexpected modes: %v", allModes)
	}

	if set.String() != "io" {
		t.Errorf("unexpected string representation: %s", set.String())
	}

	set.Clear()
	if len(set.AllModes()) != 0 {
		t.Errorf("expected empty set after Clear")
	}
}

func TestModeChangesString(t *testing.T) {
	changes := ModeChanges{
		{Op: Add, Mode: Key, Arg: "hunter2"},
		{Op: Add, Mode: UserLimit, Arg: "20"},
		{Op: Remove, Mode: Moderated},
	}
	if result := changes.String(); result != "+kl-m hunter2 20" {
		t.Errorf("unexpected rendering: %s", result)
	}
}

func TestPrefixes(t *testing.T) {
	set := NewModeSet()
	set.SetMode(Voice, true)
	set.SetMode(ChannelOperator, true)

	if set.Prefixes(true) != "@+" {
		t.Errorf("unexpected multi-prefix rendering: %s", set.Prefixes(true))
	}
	if set.Prefixes(false) != "@" {
		t.Errorf("unexpected prefix rendering: %s", set.Prefixes(false))
	}
}
