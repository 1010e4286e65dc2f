// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"regexp"
	"sort"
	"sync"

	"github.com/talkerd/talkerd/irc/utils"
)

// UserMaskSet holds a set of client masks and lets you match nick!user@host
// strings to them. It backs the channel ban, ban-exception and invite-exception
// lists.
type UserMaskSet struct {
	sync.RWMutex
	masks  map[string]bool
	regexp *regexp.Regexp
}

func NewUserMaskSet() *UserMaskSet {
	return &UserMaskSet{
		masks: make(map[string]bool),
	}
}

// Add adds the given mask to this set.
func (set *UserMaskSet) Add(mask string) (added bool) {
	casefoldedMask, err := Casefold(mask)
	if err != nil {
		return false
	}

	set.Lock()
	added = !set.masks[casefoldedMask]
	if added {
		set.masks[casefoldedMask] = true
	}
	set.Unlock()

	if added {
		set.setRegexp()
	}
	return
}

// Remove removes the given mask from this set.
func (set *UserMaskSet) Remove(mask string) (removed bool) {
	casefoldedMask, err := Casefold(mask)
	if err != nil {
		return false
	}

	set.Lock()
	removed = set.masks[casefoldedMask]
	if removed {
		delete(set.masks, casefoldedMask)
	}
	set.Unlock()

	if removed {
		set.setRegexp()
	}
	return
}

// Match matches the given nick!user@host.
func (set *UserMaskSet) Match(userhost string) bool {
	set.RLock()
	regexp := set.regexp
	set.RUnlock()

	if regexp == nil {
		return false
	}
	return regexp.MatchString(userhost)
}

// Masks returns the masks in this set, sorted.
func (set *UserMaskSet) Masks() []string {
	set.RLock()
	masks := make([]string, 0, len(set.masks))
	for mask := range set.masks {
		masks = append(masks, mask)
	}
	set.RUnlock()
	sort.Strings(masks)
	return masks
}

func (set *UserMaskSet) Length() int {
	set.RLock()
	defer set.RUnlock()
	return len(set.masks)
}

// setRegexp recompiles the matching regexp from the current mask set.
func (set *UserMaskSet) setRegexp() {
	set.RLock()
	maskExprs := make([]string, 0, len(set.masks))
	for mask := range set.masks {
		maskExprs = append(maskExprs, mask)
	}
	set.RUnlock()

	var re *regexp.Regexp
	if len(maskExprs) > 0 {
		re, _ = utils.CompileMasks(maskExprs)
	}

	set.Lock()
	set.regexp = re
	set.Unlock()
}
