// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "fmt"

const (
	// SemVer is the semantic version of talkerd.
	SemVer = "1.0.0"
)

var (
	// Ver is the full version of talkerd, used in responses to clients.
	Ver = fmt.Sprintf("talkerd-%s", SemVer)
)
