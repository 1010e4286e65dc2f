// Copyright (c) 2017-2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// resolvePrefix determines the requestor of a message: the talker the message
// claims to originate from, if the receiving link actually has authority over
// that talker.
//
// An absent prefix resolves to the connection's own talker. A present prefix
// must name a talker whose origin connection is this link: for a client link
// that is only the client's own talker, while a server link speaks for every
// talker introduced over it. A prefix naming anyone else is spoofing.
func (server *Server) resolvePrefix(conn *Connection, msg *ircmsg.Message) (Talker, error) {
	if msg.Source == "" {
		return conn.Talker(), nil
	}

	source := msg.Source
	name := source
	if idx := strings.IndexByte(source, '!'); idx != -1 {
		name = source[:idx]
	} else if idx := strings.IndexByte(source, '@'); idx != -1 {
		name = source[:idx]
	}

	claimed := server.registry.Get(name)
	if claimed == nil {
		return nil, errUnknownPrefix
	}
	if claimed.Connection() != conn {
		return nil, errSpoofedPrefix
	}

	// a full nick!user@host prefix must match the claimed user's mask exactly
	if name != source {
		user, isUser := claimed.(*User)
		if !isUser {
			return nil, errSpoofedPrefix
		}
		cfmask, err := Casefold(source)
		if err != nil || cfmask != user.NickMaskCasefolded() {
			return nil, errSpoofedPrefix
		}
	}

	return claimed, nil
}
