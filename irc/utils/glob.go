// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"bytes"
	"regexp"
	"regexp/syntax"
)

// yet another glob implementation in Go

func addGlob(buf *bytes.Buffer, glob string) error {
	for _, r := range glob {
		switch r {
		case '*':
			buf.WriteString("(.*)")
		case '?':
			buf.WriteString("(.)")
		case 0xFFFD:
			return &syntax.Error{Code: syntax.ErrInvalidUTF8, Expr: glob}
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return nil
}

// CompileGlob compiles a mask glob into a regexp matching the whole string.
func CompileGlob(glob string) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	buf.WriteByte('^')
	if err = addGlob(&buf, glob); err != nil {
		return nil, err
	}
	buf.WriteByte('$')
	return regexp.Compile(buf.String())
}

// CompileMasks compiles a set of mask globs into a single regexp; the
// anchors apply to the alternation as a group, so each mask must match
// the whole string on its own.
func CompileMasks(masks []string) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	buf.WriteString("^(")
	for i, mask := range masks {
		if i != 0 {
			buf.WriteByte('|')
		}
		if err = addGlob(&buf, mask); err != nil {
			return nil, err
		}
	}
	buf.WriteString(")$")
	return regexp.Compile(buf.String())
}
