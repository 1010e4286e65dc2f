// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package isupport

import (
	"reflect"
	"testing"
)

func TestISUPPORT(t *testing.T) {
	// test multiple output replies
	tListLong := NewList()
	tListLong.AddNoValue("1")
	tListLong.AddNoValue("2")
	tListLong.AddNoValue("3")
	tListLong.AddNoValue("4")
	tListLong.AddNoValue("5")
	tListLong.AddNoValue("6")
	tListLong.AddNoValue("7")
	tListLong.AddNoValue("8")
	tListLong.AddNoValue("9")
	tListLong.AddNoValue("A")
	tListLong.AddNoValue("B")
	tListLong.AddNoValue("C")
	tListLong.AddNoValue("D")
	tListLong.AddNoValue("E")
	tListLong.AddNoValue("F")
	tListLong.RegenerateCachedReply()

	longReplies := [][]string{
		{"1", "2", "3", "4", "5", "6", "7", "8", "9", "A", "B", "C", "D"},
		{"E", "F"},
	}

	if !reflect.DeepEqual(tListLong.CachedReply, longReplies) {
		t.Errorf("Multiple output replies did not match, got [%v]", tListLong.CachedReply)
	}

	tList := NewList()
	tList.Add("SASL", "yes")
	tList.Add("CASEMAPPING", "rfc1459-strict")
	tList.Add("INVEX", "i")
	tList.AddNoValue("EXTBAN")
	tList.Add("RANDKILL", "whenever")
	tList.RegenerateCachedReply()

	expected := [][]string{{"CASEMAPPING=rfc1459-strict", "EXTBAN", "INVEX=i", "RANDKILL=whenever", "SASL=yes"}}
	if !reflect.DeepEqual(tList.CachedReply, expected) {
		t.Errorf("cached reply does not match, got [%v]", tList.CachedReply)
	}

	if !tList.Contains("SASL") || tList.Contains("STABLEKILL") {
		t.Error("Contains gave wrong answers")
	}
}

func TestBadToken(t *testing.T) {
	tList := NewList()
	tList.Add("GOOD", "arg")
	tList.Add("BAD TOKEN", "arg")
	if err := tList.RegenerateCachedReply(); err == nil {
		t.Error("expected an error from a token containing a space")
	}
	expected := [][]string{{"GOOD=arg"}}
	if !reflect.DeepEqual(tList.CachedReply, expected) {
		t.Errorf("bad token should be skipped, got [%v]", tList.CachedReply)
	}
}
