// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"regexp"
	"testing"
)

func globMustCompile(glob string) *regexp.Regexp {
	re, err := CompileGlob(glob)
	if err != nil {
		panic(err)
	}
	return re
}

func assertMatches(glob, str string, match bool, t *testing.T) {
	re := globMustCompile(glob)
	if re.MatchString(str) != match {
		t.Errorf("should %s match %s? %t, but got %t instead", glob, str, match, !match)
	}
}

func TestGlob(t *testing.T) {
	assertMatches("evan!*@*", "evan!~evan@localhost", true, t)
	assertMatches("*!*@tor.example", "horse!x@tor.example", true, t)
	assertMatches("*!*@tor.example", "horse!x@tor.example.com", false, t)

	assertMatches("", "", true, t)
	assertMatches("", "x", false, t)
	assertMatches("*", "", true, t)
	assertMatches("*", "x", true, t)

	assertMatches("c?b", "cab", true, t)
	assertMatches("c?b", "cub", true, t)
	assertMatches("c?b", "cb", false, t)
	assertMatches("c?b", "cube", false, t)
	assertMatches("?*", "cube", true, t)
	assertMatches("?*", "", false, t)
}

func TestMasks(t *testing.T) {
	masks := []string{
		"*!*@container.example",
		"*!*@*.snoopers.example",
		"?az@*",
	}

	matcher, err := CompileMasks(masks)
	if err != nil {
		t.Fatal(err)
	}

	if !matcher.MatchString("horse!horse@container.example") {
		t.Errorf("exact-host mask should match")
	}
	if !matcher.MatchString("horse!horse@a.snoopers.example") {
		t.Errorf("wildcard-host mask should match")
	}
	if matcher.MatchString("horse!horse@snoopers.example") {
		t.Errorf("wildcard requires the subdomain component")
	}
	// each alternative must match the whole string on its own
	if matcher.MatchString("bbaz@x") {
		t.Errorf("a middle mask must stay anchored at the start")
	}
	if matcher.MatchString("horse!horse@a.snoopers.example.com") {
		t.Errorf("a middle mask must stay anchored at the end")
	}
	if !matcher.MatchString("baz@x") {
		t.Errorf("? should match exactly one character")
	}
}
