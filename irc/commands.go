// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/talkerd/talkerd/irc/modes"
)

// Command represents a command accepted from a talker.
type Command struct {
	handler      func(server *Server, requestor Talker, msg ircmsg.Message)
	oper         bool
	usablePreReg bool
	localOnly    bool
	minParams    int
}

// Run runs this command with the given requestor, enforcing the gating rules
// common to all commands before invoking the handler.
func (cmd *Command) Run(server *Server, conn *Connection, requestor Talker, msg ircmsg.Message) {
	if !cmd.usablePreReg && !requestor.Registered() {
		requestor.Send(nil, server.name, ERR_NOTREGISTERED, replyTarget(requestor), "You have not registered")
		return
	}
	if cmd.localOnly && !requestor.IsLocal() {
		return
	}
	if len(msg.Params) < cmd.minParams {
		requestor.Send(nil, server.name, ERR_NEEDMOREPARAMS, replyTarget(requestor), msg.Command, "Not enough parameters")
		return
	}
	if cmd.oper && !hasOperAuthority(requestor) {
		requestor.Send(nil, server.name, ERR_NOPRIVILEGES, replyTarget(requestor), "Permission Denied - You're not an IRC operator")
		return
	}

	cmd.handler(server, requestor, msg)

	if conn.State() == ConnStateNew {
		server.tryRegister(conn)
	}
}

// replyTarget is the nick to address numerics to: the requestor's nick, or
// the customary `*` before one is chosen.
func replyTarget(requestor Talker) string {
	nick := requestor.Nick()
	if nick == "" {
		return "*"
	}
	return nick
}

// hasOperAuthority reports whether a requestor may use oper-only commands.
// Peer servers carry implicit operator authority.
func hasOperAuthority(requestor Talker) bool {
	switch talker := requestor.(type) {
	case *Peer:
		return true
	case *User:
		return talker.HasMode(modes.Operator)
	default:
		return false
	}
}

// Commands holds all commands executable by a talker.
var Commands map[string]Command

func init() {
	Commands = map[string]Command{
		"ADMIN": {
			handler: adminHandler,
		},
		"AWAY": {
			handler: awayHandler,
		},
		"CONNECT": {
			handler:   connectHandler,
			oper:      true,
			minParams: 2,
		},
		"DIE": {
			handler:   dieHandler,
			oper:      true,
			localOnly: true,
		},
		"ERROR": {
			handler:      errorHandler,
			usablePreReg: true,
		},
		"INFO": {
			handler: infoHandler,
		},
		"INVITE": {
			handler:   inviteHandler,
			minParams: 2,
		},
		"ISON": {
			handler:   isonHandler,
			minParams: 1,
		},
		"JOIN": {
			handler:   joinHandler,
			minParams: 1,
		},
		"KICK": {
			handler:   kickHandler,
			minParams: 2,
		},
		"KILL": {
			handler:   killHandler,
			oper:      true,
			minParams: 2,
		},
		"LIST": {
			handler: listHandler,
		},
		"LUSERS": {
			handler: lusersHandler,
		},
		"MODE": {
			handler:   modeHandler,
			minParams: 1,
		},
		"MOTD": {
			handler: motdHandler,
		},
		"NAMES": {
			handler: namesHandler,
		},
		"NICK": {
			handler:      nickHandler,
			usablePreReg: true,
		},
		"NOTICE": {
			handler: noticeHandler,
		},
		"OPER": {
			handler:   operHandler,
			localOnly: true,
			minParams: 2,
		},
		"PART": {
			handler:   partHandler,
			minParams: 1,
		},
		"PASS": {
			handler:      passHandler,
			usablePreReg: true,
			minParams:    1,
		},
		"PING": {
			handler:      pingHandler,
			usablePreReg: true,
		},
		"PONG": {
			handler:      pongHandler,
			usablePreReg: true,
		},
		"PRIVMSG": {
			handler: privmsgHandler,
		},
		"QUIT": {
			handler:      quitHandler,
			usablePreReg: true,
		},
		"REHASH": {
			handler:   rehashHandler,
			oper:      true,
			localOnly: true,
		},
		"RESTART": {
			handler:   restartHandler,
			oper:      true,
			localOnly: true,
		},
		"SERVER": {
			handler:      serverHandler,
			usablePreReg: true,
			minParams:    4,
		},
		"SERVICE": {
			handler:      serviceHandler,
			usablePreReg: true,
			minParams:    6,
		},
		"SQUERY": {
			handler: squeryHandler,
		},
		"SQUIT": {
			handler:   squitHandler,
			oper:      true,
			minParams: 2,
		},
		"STATS": {
			handler: statsHandler,
		},
		"TIME": {
			handler: timeHandler,
		},
		"TOPIC": {
			handler:   topicHandler,
			minParams: 1,
		},
		"USER": {
			handler:      userHandler,
			usablePreReg: true,
			minParams:    4,
		},
		"USERHOST": {
			handler:   userhostHandler,
			minParams: 1,
		},
		"VERSION": {
			handler: versionHandler,
		},
		"WALLOPS": {
			handler:   wallopsHandler,
			oper:      true,
			minParams: 1,
		},
		"WHO": {
			handler: whoHandler,
		},
		"WHOIS": {
			handler:   whoisHandler,
			minParams: 1,
		},
		"WHOWAS": {
			handler:   whowasHandler,
			minParams: 1,
		},
	}
}
