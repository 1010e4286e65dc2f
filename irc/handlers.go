// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2017-2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/crypto/bcrypt"

	"github.com/talkerd/talkerd/irc/modes"
)

// ADMIN
func adminHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	config := server.Config()
	nick := replyTarget(requestor)
	requestor.Send(nil, server.name, RPL_ADMINME, nick, server.name, "Administrative info")
	requestor.Send(nil, server.name, RPL_ADMINLOC1, nick, config.Server.Admin.Location)
	requestor.Send(nil, server.name, RPL_ADMINLOC2, nick, config.Server.Admin.Organization)
	requestor.Send(nil, server.name, RPL_ADMINEMAIL, nick, config.Server.Admin.Email)
}

// AWAY [:message]
func awayHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}

	var message string
	if len(msg.Params) > 0 {
		message = msg.Params[0]
	}
	user.SetAwayMessage(message)

	if user.IsLocal() {
		if message == "" {
			user.Send(nil, server.name, RPL_UNAWAY, user.Nick(), "You are no longer marked as being away")
		} else {
			user.Send(nil, server.name, RPL_NOWAWAY, user.Nick(), "You have been marked as being away")
		}
	}

	server.propagate(requestor.Connection(), user.NickMaskString(), "AWAY", msg.Params...)
}

// CONNECT <target> <port> [<remote>]
func connectHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	target := msg.Params[0]
	link, exists := server.Config().Server.Links[target]
	if !exists {
		requestor.Send(nil, server.name, ERR_NOSUCHSERVER, replyTarget(requestor), target, "No such server")
		return
	}
	address := link.Address
	if msg.Params[1] != "" {
		host := address
		if idx := strings.LastIndexByte(address, ':'); idx != -1 {
			host = address[:idx]
		}
		address = host + ":" + msg.Params[1]
	}
	go server.establishLink(target, address)
}

// DIE
func dieHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	server.logger.Info("server", "shutdown requested by", requestor.Nick())
	server.Shutdown(false)
}

// ERROR :<message>
func errorHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	var message string
	if len(msg.Params) > 0 {
		message = msg.Params[0]
	}
	server.logger.Warning("server", "ERROR from", requestor.Nick(), message)
	if _, isPeer := requestor.(*Peer); isPeer {
		requestor.Connection().MarkBroken("ERROR from peer: " + message)
	}
}

// INFO
func infoHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	requestor.Send(nil, server.name, RPL_INFO, nick, fmt.Sprintf("%s, running since %s", Ver, server.ctime.Format(time.RFC1123)))
	requestor.Send(nil, server.name, RPL_INFO, nick, "an RFC 2812 talker daemon")
	requestor.Send(nil, server.name, RPL_ENDOFINFO, nick, "End of INFO list")
}

// INVITE <nick> <channel>
func inviteHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	targetNick, channelName := msg.Params[0], msg.Params[1]

	target := server.registry.GetUser(targetNick)
	if target == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, targetNick, "No such nick/channel")
		return
	}

	cfchannel, err := CasefoldChannel(channelName)
	if err != nil {
		requestor.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, channelName, "No such channel")
		return
	}

	channel := server.registry.GetChannel(channelName)
	if channel != nil {
		user, isUser := requestor.(*User)
		if isUser && !channel.hasMember(user) {
			requestor.Send(nil, server.name, ERR_NOTONCHANNEL, nick, channelName, "You're not on that channel")
			return
		}
		if isUser && channel.flags.HasMode(modes.InviteOnly) && !channel.MemberHasMode(user, modes.ChannelOperator) {
			requestor.Send(nil, server.name, ERR_CHANOPRIVSNEEDED, nick, channelName, "You're not channel operator")
			return
		}
		if channel.hasMember(target) {
			requestor.Send(nil, server.name, ERR_USERONCHANNEL, nick, targetNick, channelName, "is already on channel")
			return
		}
	}

	target.Invite(cfchannel)
	requestor.Send(nil, server.name, RPL_INVITING, nick, targetNick, channelName)
	target.Send(nil, requestor.NickMaskString(), "INVITE", targetNick, channelName)
	if awayMessage := target.AwayMessage(); awayMessage != "" {
		requestor.Send(nil, server.name, RPL_AWAY, nick, targetNick, awayMessage)
	}
}

// ISON <nick>{ <nick>}
func isonHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	var on []string
	for _, nick := range msg.Params {
		if t := server.registry.Get(nick); t != nil {
			on = append(on, t.Nick())
		}
	}
	requestor.Send(nil, server.name, RPL_ISON, replyTarget(requestor), strings.Join(on, " "))
}

// JOIN <channel>{,<channel>} [<key>{,<key>}] | JOIN 0
func joinHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}
	nick := replyTarget(requestor)

	if msg.Params[0] == "0" {
		for _, channel := range user.Channels() {
			channel.Part(user, user.Nick())
		}
		server.propagate(requestor.Connection(), user.NickMaskString(), "JOIN", "0")
		return
	}

	names := strings.Split(msg.Params[0], ",")
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}

	for i, name := range names {
		var key string
		if i < len(keys) {
			key = keys[i]
		}

		_, err := server.registry.Join(user, name, key)
		switch err {
		case nil:
			server.propagate(requestor.Connection(), user.NickMaskString(), "JOIN", name)
		case errNoSuchChannel:
			user.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, name, "No such channel")
		case errBadChannelKey:
			user.Send(nil, server.name, ERR_BADCHANNELKEY, nick, name, "Cannot join channel (+k)")
		case errBannedFromChannel:
			user.Send(nil, server.name, ERR_BANNEDFROMCHAN, nick, name, "Cannot join channel (+b)")
		case errInviteOnlyChannel:
			user.Send(nil, server.name, ERR_INVITEONLYCHAN, nick, name, "Cannot join channel (+i)")
		case errChannelFull:
			user.Send(nil, server.name, ERR_CHANNELISFULL, nick, name, "Cannot join channel (+l)")
		case errTooManyChannels:
			user.Send(nil, server.name, ERR_TOOMANYCHANNELS, nick, name, "You have joined too many channels")
		}
	}
}

// KICK <channel>{,<channel>} <user>{,<user>} [<comment>]
func kickHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	channels := strings.Split(msg.Params[0], ",")
	users := strings.Split(msg.Params[1], ",")

	if len(channels) != len(users) && len(channels) != 1 && len(users) != 1 {
		requestor.Send(nil, server.name, ERR_NEEDMOREPARAMS, nick, "KICK", "Not enough parameters")
		return
	}

	type kickCmd struct {
		channel string
		nick    string
	}
	var kicks []kickCmd
	switch {
	case len(channels) == 1:
		for _, victim := range users {
			kicks = append(kicks, kickCmd{channels[0], victim})
		}
	case len(users) == 1:
		for _, channel := range channels {
			kicks = append(kicks, kickCmd{channel, users[0]})
		}
	default:
		for index, channel := range channels {
			kicks = append(kicks, kickCmd{channel, users[index]})
		}
	}

	comment := requestor.Nick()
	if len(msg.Params) > 2 {
		comment = msg.Params[2]
	}

	for _, kick := range kicks {
		channel := server.registry.GetChannel(kick.channel)
		if channel == nil {
			requestor.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, kick.channel, "No such channel")
			continue
		}

		if user, isUser := requestor.(*User); isUser {
			if !channel.hasMember(user) {
				requestor.Send(nil, server.name, ERR_NOTONCHANNEL, nick, kick.channel, "You're not on that channel")
				continue
			}
			if !channel.MemberHasMode(user, modes.ChannelOperator) {
				requestor.Send(nil, server.name, ERR_CHANOPRIVSNEEDED, nick, kick.channel, "You're not channel operator")
				continue
			}
		}

		target := server.registry.GetUser(kick.nick)
		if target == nil || !channel.hasMember(target) {
			requestor.Send(nil, server.name, ERR_USERNOTINCHANNEL, nick, kick.nick, kick.channel, "They aren't on that channel")
			continue
		}

		channel.Kick(requestor, target, comment)
		server.propagate(requestor.Connection(), requestor.NickMaskString(), "KICK", channel.Name(), target.Nick(), comment)
	}
}

// KILL <nick> <comment>
func killHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	targetNick, comment := msg.Params[0], msg.Params[1]
	target := server.registry.GetUser(targetNick)
	if target == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHNICK, replyTarget(requestor), targetNick, "No such nick/channel")
		return
	}

	quitReason := fmt.Sprintf("Killed (%s (%s))", requestor.Nick(), comment)
	if target.IsLocal() {
		target.Send(nil, requestor.NickMaskString(), "KILL", target.Nick(), comment)
		target.Connection().MarkBroken(quitReason)
	} else {
		// route towards the target's origin link
		target.Send(nil, requestor.NickMaskString(), "KILL", target.Nick(), comment)
		server.registry.Remove(target)
		server.cleanupTalker(target, quitReason)
	}
}

// LIST [<channel>{,<channel>}]
func listHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)

	var channels []*Channel
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		for _, name := range strings.Split(msg.Params[0], ",") {
			if channel := server.registry.GetChannel(name); channel != nil {
				channels = append(channels, channel)
			}
		}
	} else {
		channels = server.registry.Channels()
	}

	for _, channel := range channels {
		if !channelVisible(requestor, channel) {
			continue
		}
		memberCount := strconv.Itoa(len(channel.Members()))
		requestor.Send(nil, server.name, RPL_LIST, nick, channel.Name(), memberCount, channel.Topic())
	}
	requestor.Send(nil, server.name, RPL_LISTEND, nick, "End of LIST")
}

// LUSERS
func lusersHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	server.sendLusers(requestor)
}

// MODE <target> [<modestring> [<mode arguments>...]]
func modeHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if _, err := CasefoldChannel(msg.Params[0]); err == nil {
		channelModeHandler(server, requestor, msg)
	} else {
		userModeHandler(server, requestor, msg)
	}
}

func channelModeHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	channel := server.registry.GetChannel(msg.Params[0])
	if channel == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, msg.Params[0], "No such channel")
		return
	}

	if len(msg.Params) == 1 {
		requestor.Send(nil, server.name, RPL_CHANNELMODEIS, nick, channel.Name(), channel.modeString())
		requestor.Send(nil, server.name, RPL_CREATIONTIME, nick, channel.Name(), strconv.FormatInt(channel.createdTime.Unix(), 10))
		return
	}

	changes, unknown := modes.ParseChannelModeChanges(msg.Params[1:]...)
	for mode := range unknown {
		requestor.Send(nil, server.name, ERR_UNKNOWNMODE, nick, string(mode), "is unknown mode char to me")
	}

	// bare list-mode queries don't require privileges
	var listQueries, updates modes.ModeChanges
	for _, change := range changes {
		if change.Op == modes.List {
			listQueries = append(listQueries, change)
		} else {
			updates = append(updates, change)
		}
	}

	for _, query := range listQueries {
		sendChannelMaskList(server, requestor, channel, query.Mode)
	}

	if len(updates) == 0 {
		return
	}

	if user, isUser := requestor.(*User); isUser {
		if !channel.hasMember(user) {
			requestor.Send(nil, server.name, ERR_NOTONCHANNEL, nick, channel.Name(), "You're not on that channel")
			return
		}
		if !channel.MemberHasMode(user, modes.ChannelOperator) {
			requestor.Send(nil, server.name, ERR_CHANOPRIVSNEEDED, nick, channel.Name(), "You're not channel operator")
			return
		}
	}

	applied := applyChannelModeChanges(server, requestor, channel, updates)
	if len(applied) > 0 {
		args := append([]string{channel.Name()}, applied.Strings()...)
		channel.broadcast(nil, requestor.NickMaskString(), "MODE", args...)
		server.propagate(requestor.Connection(), requestor.NickMaskString(), "MODE", args...)
		server.persistChannel(channel)
	}
}

func sendChannelMaskList(server *Server, requestor Talker, channel *Channel, mode modes.Mode) {
	nick := replyTarget(requestor)
	var item, end string
	var endMessage string
	switch mode {
	case modes.BanMask:
		item, end, endMessage = RPL_BANLIST, RPL_ENDOFBANLIST, "End of channel ban list"
	case modes.ExceptMask:
		item, end, endMessage = RPL_EXCEPTLIST, RPL_ENDOFEXCEPTLIST, "End of channel exception list"
	case modes.InviteMask:
		item, end, endMessage = RPL_INVITELIST, RPL_ENDOFINVITELIST, "End of channel invite list"
	default:
		return
	}
	for _, mask := range channel.List(mode).Masks() {
		requestor.Send(nil, server.name, item, nick, channel.Name(), mask)
	}
	requestor.Send(nil, server.name, end, nick, channel.Name(), endMessage)
}

func applyChannelModeChanges(server *Server, requestor Talker, channel *Channel, changes modes.ModeChanges) (applied modes.ModeChanges) {
	nick := replyTarget(requestor)
	for _, change := range changes {
		switch change.Mode {
		case modes.BanMask, modes.ExceptMask, modes.InviteMask:
			list := channel.List(change.Mode)
			var changed bool
			if change.Op == modes.Add {
				changed = list.Add(change.Arg)
			} else {
				changed = list.Remove(change.Arg)
			}
			if changed {
				applied = append(applied, change)
			}

		case modes.Key:
			if change.Op == modes.Add {
				channel.SetKey(change.Arg)
			} else {
				channel.SetKey("")
			}
			applied = append(applied, change)

		case modes.UserLimit:
			if change.Op == modes.Add {
				limit, err := strconv.Atoi(change.Arg)
				if err != nil || limit <= 0 {
					continue
				}
				channel.SetUserLimit(limit)
			} else {
				channel.SetUserLimit(0)
			}
			applied = append(applied, change)

		case modes.ChannelOperator, modes.Voice:
			target := server.registry.GetUser(change.Arg)
			if target == nil {
				requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, change.Arg, "No such nick/channel")
				continue
			}
			member := channel.memberModes(target)
			if member == nil {
				requestor.Send(nil, server.name, ERR_USERNOTINCHANNEL, nick, change.Arg, channel.Name(), "They aren't on that channel")
				continue
			}
			if member.SetMode(change.Mode, change.Op == modes.Add) {
				change.Arg = target.Nick()
				applied = append(applied, change)
			}

		default:
			if channel.flags.SetMode(change.Mode, change.Op == modes.Add) {
				applied = append(applied, change)
			}
		}
	}
	return
}

func userModeHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}

	cfTarget, err := CasefoldName(msg.Params[0])
	if err != nil || cfTarget != user.NickCasefolded() {
		requestor.Send(nil, server.name, ERR_USERSDONTMATCH, nick, "Cant change mode for other users")
		return
	}

	if len(msg.Params) == 1 {
		requestor.Send(nil, server.name, RPL_UMODEIS, nick, user.ModeString())
		return
	}

	changes, unknown := modes.ParseUserModeChanges(msg.Params[1:]...)
	if len(unknown) > 0 {
		requestor.Send(nil, server.name, ERR_UMODEUNKNOWNFLAG, nick, "Unknown MODE flag")
	}

	var applied modes.ModeChanges
	for _, change := range changes {
		switch change.Mode {
		case modes.Operator:
			// +o is only achievable via OPER
			if change.Op == modes.Add {
				continue
			}
		case modes.Away:
			// +a is only achievable via AWAY
			continue
		}
		if user.SetMode(change.Mode, change.Op == modes.Add) {
			applied = append(applied, change)
		}
	}

	if len(applied) > 0 {
		args := append([]string{user.Nick()}, applied.Strings()...)
		user.Send(nil, user.NickMaskString(), "MODE", args...)
		server.propagate(requestor.Connection(), user.NickMaskString(), "MODE", args...)
	}
}

// MOTD
func motdHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	server.sendMOTD(requestor)
}

// NAMES [<channel>{,<channel>}]
func namesHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		for _, channel := range server.registry.Channels() {
			if channelVisible(requestor, channel) {
				channel.Names(requestor)
			}
		}
		return
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		channel := server.registry.GetChannel(name)
		if channel != nil && channelVisible(requestor, channel) {
			channel.Names(requestor)
		} else {
			// hidden channels look like empty ones
			requestor.Send(nil, server.name, RPL_ENDOFNAMES, replyTarget(requestor), name, "End of NAMES list")
		}
	}
}

// NICK <nickname>
// NICK <nickname> <hopcount> <username> <host> <servertoken> <umode> <realname>
func nickHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if peer, isPeer := requestor.(*Peer); isPeer && len(msg.Params) >= 7 {
		remoteNickHandler(server, peer, msg)
		return
	}

	if len(msg.Params) == 0 {
		requestor.Send(nil, server.name, ERR_NONICKNAMEGIVEN, replyTarget(requestor), "No nickname given")
		return
	}

	user, isUser := requestor.(*User)
	if !isUser {
		return
	}
	if user.Registered() && user.HasMode(modes.Restricted) {
		requestor.Send(nil, server.name, ERR_RESTRICTED, replyTarget(requestor), "Your connection is restricted!")
		return
	}

	newNick := msg.Params[0]
	oldDetails := user.details()
	oldMask := user.NickMaskString()
	err := server.registry.ClaimNick(user, newNick)
	switch err {
	case nil:
	case errNicknameInvalid:
		requestor.Send(nil, server.name, ERR_ERRONEUSNICKNAME, replyTarget(requestor), newNick, "Erroneous nickname")
		return
	case errNicknameInUse, errConfusableIdentifier, errServerNameInUse:
		requestor.Send(nil, server.name, ERR_NICKNAMEINUSE, replyTarget(requestor), newNick, "Nickname is already in use")
		return
	default:
		return
	}

	if user.Registered() {
		// the old identity remains reachable through WHOWAS
		server.registry.whowas.Append(oldDetails)

		seen := map[*Connection]bool{user.Connection(): true}
		user.Send(nil, oldMask, "NICK", newNick)
		for _, channel := range user.Channels() {
			for _, member := range channel.Members() {
				conn := member.Connection()
				if conn == nil || seen[conn] {
					continue
				}
				seen[conn] = true
				conn.Send(nil, oldMask, "NICK", newNick)
			}
		}
		server.propagate(requestor.Connection(), oldMask, "NICK", newNick)
	}
}

func remoteNickHandler(server *Server, peer *Peer, msg ircmsg.Message) {
	nick := msg.Params[0]
	hopCount, err := strconv.Atoi(msg.Params[1])
	if err != nil || hopCount < 1 {
		hopCount = 1
	}
	username, hostname, realname := msg.Params[2], msg.Params[3], msg.Params[6]

	user, err := newRemoteUser(server, peer.Connection(), nick, username, hostname, peer.Nick(), hopCount, realname)
	if err != nil {
		server.logger.Warning("server", "invalid remote nick from", peer.Nick(), nick)
		return
	}
	if err := server.registry.ClaimNick(user, nick); err != nil {
		// nick collision across links; refuse the introduction
		peer.Send(nil, server.name, ERR_NICKCOLLISION, nick, "Nickname collision KILL")
		return
	}
	server.propagate(peer.Connection(), server.name, "NICK", msg.Params...)
}

// NOTICE <target>{,<target>} <message>
func noticeHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	messageHandler(server, requestor, msg, "NOTICE")
}

// OPER <name> <password>
func operHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}
	nick := replyTarget(requestor)

	oper, exists := server.Config().Operators[msg.Params[0]]
	if !exists || bcrypt.CompareHashAndPassword([]byte(oper.Password), []byte(msg.Params[1])) != nil {
		user.Send(nil, server.name, ERR_PASSWDMISMATCH, nick, "Password incorrect")
		return
	}

	user.SetOperName(msg.Params[0])
	if user.SetMode(modes.Operator, true) {
		user.Send(nil, user.NickMaskString(), "MODE", user.Nick(), "+o")
		server.propagate(requestor.Connection(), user.NickMaskString(), "MODE", user.Nick(), "+o")
	}
	user.Send(nil, server.name, RPL_YOUREOPER, nick, "You are now an IRC operator")
	server.logger.Info("opers", user.Nick(), "opered up as", msg.Params[0])
}

// PART <channel>{,<channel>} [<message>]
func partHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}
	nick := replyTarget(requestor)

	var message string
	if len(msg.Params) > 1 {
		message = msg.Params[1]
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		channel := server.registry.GetChannel(name)
		if channel == nil {
			user.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, name, "No such channel")
			continue
		}
		if err := channel.Part(user, message); err != nil {
			user.Send(nil, server.name, ERR_NOTONCHANNEL, nick, name, "You're not on that channel")
			continue
		}
		params := []string{channel.Name()}
		if message != "" {
			params = append(params, message)
		}
		server.propagate(requestor.Connection(), user.NickMaskString(), "PART", params...)
	}
}

// PASS <password>
func passHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if requestor.Registered() {
		requestor.Send(nil, server.name, ERR_ALREADYREGISTRED, replyTarget(requestor), "You may not reregister")
		return
	}
	requestor.Connection().SetPassword(msg.Params[0])
}

// PING <token>
func pingHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		requestor.Send(nil, server.name, ERR_NOORIGIN, replyTarget(requestor), "No origin specified")
		return
	}
	requestor.Send(nil, server.name, "PONG", server.name, msg.Params[0])
}

// PONG <token>
func pongHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	// the scheduler already counted this as activity
}

// PRIVMSG <target>{,<target>} <message>
func privmsgHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	messageHandler(server, requestor, msg, "PRIVMSG")
}

func messageHandler(server *Server, requestor Talker, msg ircmsg.Message, command string) {
	notice := command == "NOTICE"
	nick := replyTarget(requestor)

	if len(msg.Params) == 0 {
		if !notice {
			requestor.Send(nil, server.name, ERR_NORECIPIENT, nick, fmt.Sprintf("No recipient given (%s)", command))
		}
		return
	}
	if len(msg.Params) == 1 || msg.Params[1] == "" {
		if !notice {
			requestor.Send(nil, server.name, ERR_NOTEXTTOSEND, nick, "No text to send")
		}
		return
	}
	message := msg.Params[1]

	for _, targetName := range strings.Split(msg.Params[0], ",") {
		if _, err := CasefoldChannel(targetName); err == nil {
			channel := server.registry.GetChannel(targetName)
			if channel == nil {
				if !notice {
					requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, targetName, "No such nick/channel")
				}
				continue
			}
			if err := channel.SendMessage(requestor, command, message); err != nil && !notice {
				requestor.Send(nil, server.name, ERR_CANNOTSENDTOCHAN, nick, channel.Name(), "Cannot send to channel")
			}
			continue
		}

		target := server.registry.Get(targetName)
		if target == nil {
			if !notice {
				requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, targetName, "No such nick/channel")
			}
			continue
		}
		target.Send(nil, requestor.NickMaskString(), command, target.Nick(), message)
		if targetUser, isUser := target.(*User); isUser && !notice {
			if awayMessage := targetUser.AwayMessage(); awayMessage != "" {
				requestor.Send(nil, server.name, RPL_AWAY, nick, target.Nick(), awayMessage)
			}
		}
	}
}

// QUIT [:message]
func quitHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	reason := "Quit"
	if len(msg.Params) > 0 {
		reason = "Quit: " + msg.Params[0]
	}

	if requestor.IsLocal() || requestor == requestor.Connection().Talker() {
		requestor.Connection().MarkBroken(reason)
	} else {
		// a remote talker departing; its link stays up
		server.registry.Remove(requestor)
		server.cleanupTalker(requestor, reason)
	}
}

// REHASH
func rehashHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	server.logger.Info("server", "rehash requested by", requestor.Nick())
	err := server.rehash()
	if err == nil {
		requestor.Send(nil, server.name, RPL_REHASHING, replyTarget(requestor), server.configFilename, "Rehashing")
	} else {
		requestor.Send(nil, server.name, "NOTICE", replyTarget(requestor), "Rehash failed: "+err.Error())
	}
}

// RESTART
func restartHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	server.logger.Info("server", "restart requested by", requestor.Nick())
	server.Shutdown(true)
}

// SERVER <servername> <hopcount> <token> <info>
func serverHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	name := msg.Params[0]
	hopCount, err := strconv.Atoi(msg.Params[1])
	if err != nil || hopCount < 1 {
		hopCount = 1
	}
	info := msg.Params[3]
	conn := requestor.Connection()

	if peer, isPeer := requestor.(*Peer); isPeer {
		// a server behind an established link
		behind, err := NewPeer(server, peer.Connection(), name, info, hopCount)
		if err != nil || server.registry.ClaimNick(behind, name) != nil {
			server.logger.Warning("server", "rejecting server introduction", name, "from", peer.Nick())
			return
		}
		behind.SetRegistered()
		server.propagate(peer.Connection(), peer.Nick(), "SERVER", msg.Params...)
		return
	}

	if requestor.Registered() {
		requestor.Send(nil, server.name, ERR_ALREADYREGISTRED, replyTarget(requestor), "You may not reregister")
		return
	}

	link, exists := server.Config().Server.Links[name]
	if !exists || link.Password != conn.Password() {
		conn.Send(nil, server.name, "ERROR", "Access denied: bad link credentials")
		conn.MarkBroken("Bad link credentials")
		return
	}

	peer, err := NewPeer(server, conn, name, info, hopCount)
	if err != nil {
		conn.Send(nil, server.name, "ERROR", "Bogus server name")
		conn.MarkBroken("Bogus server name")
		return
	}
	if err := server.registry.ClaimNick(peer, name); err != nil {
		conn.Send(nil, server.name, "ERROR", "Server name already in use")
		conn.MarkBroken("Server name collision")
		return
	}
	conn.SetTalker(peer)
	peer.SetRegistered()
	conn.setOperational()
	server.logger.Info("server", "established link with", name)

	if !conn.initiatedLink {
		conn.Send(nil, "", "PASS", link.Password)
		conn.Send(nil, "", "SERVER", server.name, "1", "1", server.Config().Server.Description)
	}
	server.burstToLink(conn)
}

// SERVICE <nickname> <reserved> <distribution> <type> <reserved> <info>
func serviceHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := msg.Params[0]
	distribution, serviceType, info := msg.Params[2], msg.Params[3], msg.Params[5]
	conn := requestor.Connection()

	if peer, isPeer := requestor.(*Peer); isPeer {
		service, err := NewService(server, peer.Connection(), nick, distribution, serviceType, info, 1)
		if err != nil || server.registry.ClaimNick(service, nick) != nil {
			server.logger.Warning("server", "rejecting service introduction", nick, "from", peer.Nick())
			return
		}
		service.SetRegistered()
		server.propagate(peer.Connection(), peer.Nick(), "SERVICE", msg.Params...)
		return
	}

	if requestor.Registered() {
		requestor.Send(nil, server.name, ERR_ALREADYREGISTRED, replyTarget(requestor), "You may not reregister")
		return
	}

	service, err := NewService(server, conn, nick, distribution, serviceType, info, 0)
	if err != nil {
		requestor.Send(nil, server.name, ERR_ERRONEUSNICKNAME, replyTarget(requestor), nick, "Erroneous nickname")
		return
	}
	if err := server.registry.ClaimNick(service, nick); err != nil {
		requestor.Send(nil, server.name, ERR_NICKNAMEINUSE, replyTarget(requestor), nick, "Nickname is already in use")
		return
	}
	conn.SetTalker(service)
}

// SQUERY <servicename> <message>
func squeryHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	if len(msg.Params) == 0 {
		requestor.Send(nil, server.name, ERR_NORECIPIENT, nick, "No recipient given (SQUERY)")
		return
	}
	if len(msg.Params) == 1 || msg.Params[1] == "" {
		requestor.Send(nil, server.name, ERR_NOTEXTTOSEND, nick, "No text to send")
		return
	}

	target, _ := server.registry.Get(msg.Params[0]).(*Service)
	if target == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, msg.Params[0], "No such service")
		return
	}
	target.Send(nil, requestor.NickMaskString(), "SQUERY", target.Nick(), msg.Params[1])
}

// SQUIT <server> <comment>
func squitHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	name, comment := msg.Params[0], msg.Params[1]
	peer, _ := server.registry.Get(name).(*Peer)
	if peer == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHSERVER, replyTarget(requestor), name, "No such server")
		return
	}

	if peer.Connection().Talker() == Talker(peer) {
		// a direct link; sever it
		peer.Connection().MarkBroken(fmt.Sprintf("SQUIT by %s (%s)", requestor.Nick(), comment))
	} else {
		// behind another link; route the SQUIT towards it
		peer.Send(nil, requestor.NickMaskString(), "SQUIT", name, comment)
		server.registry.Remove(peer)
	}
}

// STATS [<query>]
func statsHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	query := "u"
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		query = strings.ToLower(msg.Params[0][:1])
	}

	switch query {
	case "u":
		uptime := time.Since(server.ctime)
		days := int(uptime.Hours()) / 24
		hours := int(uptime.Hours()) % 24
		mins := int(uptime.Minutes()) % 60
		secs := int(uptime.Seconds()) % 60
		requestor.Send(nil, server.name, RPL_STATSUPTIME, nick,
			fmt.Sprintf("Server Up %d days %d:%02d:%02d", days, hours, mins, secs))

	case "m":
		for _, stat := range server.CommandStats() {
			requestor.Send(nil, server.name, RPL_STATSCOMMANDS, nick,
				stat.Command, strconv.FormatInt(stat.Uses, 10), strconv.FormatInt(stat.AverageMicros, 10))
		}

	case "o":
		names := make([]string, 0, len(server.Config().Operators))
		for name := range server.Config().Operators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			requestor.Send(nil, server.name, RPL_STATSOLINE, nick, "O", "*", "*", name)
		}

	case "z":
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		requestor.Send(nil, server.name, "NOTICE", nick,
			fmt.Sprintf("In use: %s Total allocated: %s Goroutines: %d",
				bytefmt.ByteSize(stats.HeapAlloc), bytefmt.ByteSize(stats.TotalAlloc), runtime.NumGoroutine()))
	}

	requestor.Send(nil, server.name, RPL_ENDOFSTATS, nick, query, "End of STATS report")
}

// TIME
func timeHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	requestor.Send(nil, server.name, RPL_TIME, replyTarget(requestor), server.name, time.Now().UTC().Format(time.RFC1123))
}

// TOPIC <channel> [:topic]
func topicHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	channel := server.registry.GetChannel(msg.Params[0])
	if channel == nil {
		requestor.Send(nil, server.name, ERR_NOSUCHCHANNEL, nick, msg.Params[0], "No such channel")
		return
	}

	if user, isUser := requestor.(*User); isUser {
		if !channel.hasMember(user) {
			requestor.Send(nil, server.name, ERR_NOTONCHANNEL, nick, channel.Name(), "You're not on that channel")
			return
		}
		if len(msg.Params) > 1 && channel.flags.HasMode(modes.OpOnlyTopic) &&
			!channel.MemberHasMode(user, modes.ChannelOperator) {
			requestor.Send(nil, server.name, ERR_CHANOPRIVSNEEDED, nick, channel.Name(), "You're not channel operator")
			return
		}
	}

	if len(msg.Params) == 1 {
		channel.SendTopic(requestor)
		return
	}

	channel.SetTopic(requestor, msg.Params[1])
	server.propagate(requestor.Connection(), requestor.NickMaskString(), "TOPIC", channel.Name(), msg.Params[1])
}

// USER <username> <mode> <unused> <realname>
func userHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	user, isUser := requestor.(*User)
	if !isUser {
		return
	}
	if user.Registered() {
		user.Send(nil, server.name, ERR_ALREADYREGISTRED, replyTarget(requestor), "You may not reregister")
		return
	}

	username := msg.Params[0]
	if username == "" || !isValidUsername(username) {
		user.Send(nil, server.name, ERR_NEEDMOREPARAMS, replyTarget(requestor), "USER", "Not enough parameters")
		return
	}

	// a successful ident lookup overrides the client-supplied username
	if ident := user.Connection().Ident(); ident != "" {
		user.SetUsername(ident)
	} else {
		user.SetUsername("~" + username)
	}
	user.SetRealname(msg.Params[3])

	// RFC 2812 initial mode bitmask: 8 is invisible, 4 is wallops
	if bitmask, err := strconv.Atoi(msg.Params[1]); err == nil {
		if bitmask&8 != 0 {
			user.SetMode(modes.Invisible, true)
		}
		if bitmask&4 != 0 {
			user.SetMode(modes.WallOps, true)
		}
	}
}

func isValidUsername(username string) bool {
	for _, char := range username {
		if char == ' ' || char == '@' || char == '!' || char == '\x00' || char == '\r' || char == '\n' {
			return false
		}
	}
	return true
}

// USERHOST <nickname>{ <nickname>}
func userhostHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	var replies []string
	limit := len(msg.Params)
	if limit > 5 {
		limit = 5
	}
	for _, nick := range msg.Params[:limit] {
		target := server.registry.GetUser(nick)
		if target == nil {
			continue
		}
		oper := ""
		if target.HasMode(modes.Operator) {
			oper = "*"
		}
		away := "+"
		if target.AwayMessage() != "" {
			away = "-"
		}
		replies = append(replies, fmt.Sprintf("%s%s=%s%s@%s", target.Nick(), oper, away, target.Username(), target.Hostname()))
	}
	requestor.Send(nil, server.name, RPL_USERHOST, replyTarget(requestor), strings.Join(replies, " "))
}

// VERSION [<server>]
func versionHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	if len(msg.Params) > 0 && msg.Params[0] != "" && msg.Params[0] != server.name {
		requestor.Send(nil, server.name, ERR_NOSUCHSERVER, replyTarget(requestor), msg.Params[0], "No such server")
		return
	}
	requestor.Send(nil, server.name, RPL_VERSION, replyTarget(requestor), Ver, server.name)
	server.sendISupport(requestor)
}

// WALLOPS :<message>
func wallopsHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	message := msg.Params[0]
	for _, user := range server.registry.Users() {
		if user.IsLocal() && user.HasMode(modes.WallOps) {
			user.Send(nil, requestor.NickMaskString(), "WALLOPS", message)
		}
	}
	server.propagate(requestor.Connection(), requestor.NickMaskString(), "WALLOPS", message)
}

// WHO [<mask>]
func whoHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	mask := ""
	if len(msg.Params) > 0 && msg.Params[0] != "0" {
		mask = msg.Params[0]
	}

	requestingUser, _ := requestor.(*User)

	if mask != "" {
		if channel := server.registry.GetChannel(mask); channel != nil {
			if channelVisible(requestor, channel) {
				for _, member := range channel.Members() {
					if member.HasMode(modes.Invisible) && member != requestingUser && !channel.hasMember(requestingUser) && !sharesChannel(requestingUser, member) {
						continue
					}
					sendWhoReply(server, requestor, channel, member)
				}
			}
			requestor.Send(nil, server.name, RPL_ENDOFWHO, nick, mask, "End of WHO list")
			return
		}
	}

	for _, user := range server.registry.Users() {
		if !user.Registered() {
			continue
		}
		if user.HasMode(modes.Invisible) && user != requestingUser && !sharesChannel(requestingUser, user) {
			continue
		}
		if mask != "" {
			cfmask, err := CasefoldName(mask)
			if err != nil || cfmask != user.NickCasefolded() {
				continue
			}
		}
		sendWhoReply(server, requestor, nil, user)
	}
	endMask := mask
	if endMask == "" {
		endMask = "*"
	}
	requestor.Send(nil, server.name, RPL_ENDOFWHO, nick, endMask, "End of WHO list")
}

// channelVisible reports whether a requestor may learn of a channel's
// existence and membership. Secret and private channels are visible only
// to their members and to operators.
func channelVisible(requestor Talker, channel *Channel) bool {
	if !channel.flags.HasMode(modes.Secret) && !channel.flags.HasMode(modes.Private) {
		return true
	}
	if hasOperAuthority(requestor) {
		return true
	}
	user, _ := requestor.(*User)
	return user != nil && channel.hasMember(user)
}

func sharesChannel(a, b *User) bool {
	if a == nil || b == nil {
		return false
	}
	for _, channel := range a.Channels() {
		if channel.hasMember(b) {
			return true
		}
	}
	return false
}

func sendWhoReply(server *Server, requestor Talker, channel *Channel, user *User) {
	channelName := "*"
	var memberPrefix string
	if channel != nil {
		channelName = channel.Name()
		memberPrefix = channel.memberModes(user).Prefixes(false)
	}
	status := "H"
	if user.AwayMessage() != "" {
		status = "G"
	}
	if user.HasMode(modes.Operator) {
		status += "*"
	}
	requestor.Send(nil, server.name, RPL_WHOREPLY, replyTarget(requestor), channelName,
		user.Username(), user.Hostname(), user.ServerName(), user.Nick(), status+memberPrefix,
		fmt.Sprintf("%d %s", user.HopCount(), user.Realname()))
}

// WHOIS [<server>] <mask>{,<mask>}
func whoisHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	masks := msg.Params[0]
	if len(msg.Params) > 1 {
		if msg.Params[0] != server.name {
			requestor.Send(nil, server.name, ERR_NOSUCHSERVER, nick, msg.Params[0], "No such server")
			return
		}
		masks = msg.Params[1]
	}

	for _, mask := range strings.Split(masks, ",") {
		user := server.registry.GetUser(mask)
		if user == nil {
			requestor.Send(nil, server.name, ERR_NOSUCHNICK, nick, mask, "No such nick/channel")
			continue
		}

		requestor.Send(nil, server.name, RPL_WHOISUSER, nick, user.Nick(), user.Username(), user.Hostname(), "*", user.Realname())

		var channelNames []string
		for _, channel := range user.Channels() {
			if channel.flags.HasMode(modes.Secret) {
				if requestingUser, _ := requestor.(*User); requestingUser == nil || !channel.hasMember(requestingUser) {
					continue
				}
			}
			channelNames = append(channelNames, channel.memberModes(user).Prefixes(false)+channel.Name())
		}
		if len(channelNames) > 0 {
			requestor.Send(nil, server.name, RPL_WHOISCHANNELS, nick, user.Nick(), strings.Join(channelNames, " "))
		}

		serverDescription := server.Config().Server.Description
		if peer, _ := server.registry.Get(user.ServerName()).(*Peer); peer != nil {
			serverDescription = peer.Description()
		}
		requestor.Send(nil, server.name, RPL_WHOISSERVER, nick, user.Nick(), user.ServerName(), serverDescription)

		if user.HasMode(modes.Operator) {
			requestor.Send(nil, server.name, RPL_WHOISOPERATOR, nick, user.Nick(), "is an IRC operator")
		}
		if awayMessage := user.AwayMessage(); awayMessage != "" {
			requestor.Send(nil, server.name, RPL_AWAY, nick, user.Nick(), awayMessage)
		}
		if user.IsLocal() {
			requestor.Send(nil, server.name, RPL_WHOISIDLE, nick, user.Nick(),
				strconv.FormatUint(user.IdleSeconds(), 10), strconv.FormatInt(user.SignonTime(), 10), "seconds idle, signon time")
		}
		requestor.Send(nil, server.name, RPL_ENDOFWHOIS, nick, user.Nick(), "End of WHOIS list")
	}
}

// WHOWAS <nickname>{,<nickname>} [<count>]
func whowasHandler(server *Server, requestor Talker, msg ircmsg.Message) {
	nick := replyTarget(requestor)
	count := 0
	if len(msg.Params) > 1 {
		count, _ = strconv.Atoi(msg.Params[1])
	}

	for _, target := range strings.Split(msg.Params[0], ",") {
		entries := server.registry.WhoWas(target, count)
		if len(entries) == 0 {
			requestor.Send(nil, server.name, ERR_WASNOSUCHNICK, nick, target, "There was no such nickname")
		} else {
			for _, whowas := range entries {
				requestor.Send(nil, server.name, RPL_WHOWASUSER, nick, whowas.Nick, whowas.Username, whowas.Hostname, "*", whowas.Realname)
				requestor.Send(nil, server.name, RPL_WHOISSERVER, nick, whowas.Nick, whowas.ServerName, whowas.Time.Format(time.RFC1123))
			}
		}
		requestor.Send(nil, server.name, RPL_ENDOFWHOWAS, nick, target, "End of WHOWAS")
	}
}
