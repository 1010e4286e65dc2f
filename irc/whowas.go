// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"sync"
	"time"
)

// WhoWas is the preserved detail of a departed user, shown by WHOWAS.
type WhoWas struct {
	Nick           string
	NickCasefolded string
	Username       string
	Hostname       string
	Realname       string
	ServerName     string
	Time           time.Time
}

// WhoWasList is the WHOWAS archive: departed user details keyed by casefolded
// nickname, newest first, capped per nickname. Old entries fall off the end.
type WhoWasList struct {
	sync.RWMutex
	entries    map[string][]WhoWas
	perNickCap int
}

func (list *WhoWasList) Initialize(perNickCap int) {
	list.entries = make(map[string][]WhoWas)
	list.perNickCap = perNickCap
}

// Append archives a departed user's details under their nickname.
func (list *WhoWasList) Append(whowas WhoWas) {
	if whowas.NickCasefolded == "" || list.perNickCap == 0 {
		return
	}
	list.Lock()
	defer list.Unlock()

	entries := list.entries[whowas.NickCasefolded]
	entries = append([]WhoWas{whowas}, entries...)
	if len(entries) > list.perNickCap {
		entries = entries[:list.perNickCap]
	}
	list.entries[whowas.NickCasefolded] = entries
}

// Find returns up to limit archived entries for a nickname, newest first.
// limit <= 0 means no limit beyond the archive cap.
func (list *WhoWasList) Find(nick string, limit int) []WhoWas {
	cfnick, err := CasefoldName(nick)
	if err != nil {
		return nil
	}
	list.RLock()
	defer list.RUnlock()

	entries := list.entries[cfnick]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	results := make([]WhoWas, len(entries))
	copy(results, entries)
	return results
}
