// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strconv"
	"sync"
	"time"

	"github.com/talkerd/talkerd/irc/modes"
)

// Channel is a multicast group of users.
type Channel struct {
	server         *Server
	name           string
	nameCasefolded string
	createdTime    time.Time

	flags modes.ModeSet
	lists map[modes.Mode]*UserMaskSet

	stateMutex   sync.RWMutex // tier 1
	members      map[*User]*modes.ModeSet
	topic        string
	topicSetBy   string
	topicSetTime time.Time
	key          string
	userLimit    int
}

// NewChannel creates a new channel, restoring any persisted registration.
func NewChannel(server *Server, name, nameCasefolded string) *Channel {
	channel := &Channel{
		server:         server,
		name:           name,
		nameCasefolded: nameCasefolded,
		createdTime:    time.Now().UTC(),
		members:        make(map[*User]*modes.ModeSet),
		lists: map[modes.Mode]*UserMaskSet{
			modes.BanMask:    NewUserMaskSet(),
			modes.ExceptMask: NewUserMaskSet(),
			modes.InviteMask: NewUserMaskSet(),
		},
	}
	channel.flags.SetMode(modes.NoOutside, true)
	channel.flags.SetMode(modes.OpOnlyTopic, true)
	server.restoreChannel(channel)
	return channel
}

func (channel *Channel) Name() string {
	return channel.name
}

func (channel *Channel) NameCasefolded() string {
	return channel.nameCasefolded
}

func (channel *Channel) IsEmpty() bool {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	return len(channel.members) == 0
}

// Members returns a snapshot of the channel membership.
func (channel *Channel) Members() []*User {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	result := make([]*User, 0, len(channel.members))
	for member := range channel.members {
		result = append(result, member)
	}
	return result
}

func (channel *Channel) hasMember(user *User) bool {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	_, ok := channel.members[user]
	return ok
}

// memberModes returns the membership mode set for a user, or nil if they are
// not on the channel.
func (channel *Channel) memberModes(user *User) *modes.ModeSet {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	return channel.members[user]
}

// MemberHasMode tests a membership mode (+o/+v) of a user on this channel.
func (channel *Channel) MemberHasMode(user *User, mode modes.Mode) bool {
	return channel.memberModes(user).HasMode(mode)
}

func (channel *Channel) Key() string {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	return channel.key
}

func (channel *Channel) SetKey(key string) {
	channel.stateMutex.Lock()
	channel.key = key
	channel.stateMutex.Unlock()
}

func (channel *Channel) UserLimit() int {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	return channel.userLimit
}

func (channel *Channel) SetUserLimit(limit int) {
	channel.stateMutex.Lock()
	channel.userLimit = limit
	channel.stateMutex.Unlock()
}

// List returns one of the channel's mask lists (+b, +e, +I).
func (channel *Channel) List(mode modes.Mode) *UserMaskSet {
	return channel.lists[mode]
}

// Join adds a user to the channel, if every join precondition admits them.
// Preconditions are evaluated in a fixed order: key, then bans, then
// invite-only, then the member limit, then the joiner's own channel-count
// cap. The first creator of a channel gets
// chanop. On success the join is echoed to the whole channel and the joiner
// receives the topic and names burst.
func (channel *Channel) Join(user *User, key string, created bool) error {
	if channelKey := channel.Key(); channelKey != "" && channelKey != key {
		return errBadChannelKey
	}

	nickMask := user.NickMaskCasefolded()
	if channel.lists[modes.BanMask].Match(nickMask) &&
		!channel.lists[modes.ExceptMask].Match(nickMask) {
		return errBannedFromChannel
	}

	if channel.flags.HasMode(modes.InviteOnly) &&
		!channel.lists[modes.InviteMask].Match(nickMask) &&
		!user.CheckInvited(channel.nameCasefolded) {
		return errInviteOnlyChannel
	}

	limit := channel.UserLimit()

	channel.stateMutex.Lock()
	if _, alreadyJoined := channel.members[user]; alreadyJoined {
		channel.stateMutex.Unlock()
		return nil
	}
	if limit > 0 && len(channel.members) >= limit {
		channel.stateMutex.Unlock()
		return errChannelFull
	}
	maxChannels := channel.server.Config().Limits.MaxChannelsPerUser
	if user.IsLocal() && maxChannels > 0 && user.NumChannels() >= maxChannels {
		channel.stateMutex.Unlock()
		return errTooManyChannels
	}
	memberModes := modes.NewModeSet()
	if created {
		memberModes.SetMode(modes.ChannelOperator, true)
	}
	channel.members[user] = memberModes
	channel.stateMutex.Unlock()

	user.addChannel(channel)

	channel.broadcast(nil, user.NickMaskString(), "JOIN", channel.name)

	if channel.Topic() != "" {
		channel.SendTopic(user)
	}
	channel.Names(user)
	return nil
}

// Part removes a user from the channel, echoing the part to the channel
// (including the departing user).
func (channel *Channel) Part(user *User, message string) error {
	if !channel.hasMember(user) {
		return errNotOnChannel
	}

	params := []string{channel.name}
	if message != "" {
		params = append(params, message)
	}
	channel.broadcast(nil, user.NickMaskString(), "PART", params...)

	channel.remove(user)
	return nil
}

// Kick forcibly removes target from the channel on behalf of kicker. The
// caller is responsible for permission checks.
func (channel *Channel) Kick(kicker Talker, target *User, comment string) error {
	if !channel.hasMember(target) {
		return errNotOnChannel
	}

	channel.broadcast(nil, kicker.NickMaskString(), "KICK", channel.name, target.Nick(), comment)

	channel.remove(target)
	return nil
}

// Quit silently removes a user; the caller is responsible for any QUIT
// broadcast to interested parties.
func (channel *Channel) Quit(user *User) {
	channel.remove(user)
}

func (channel *Channel) remove(user *User) {
	channel.stateMutex.Lock()
	delete(channel.members, user)
	channel.stateMutex.Unlock()

	user.removeChannel(channel)
	channel.server.registry.MaybeRemoveChannel(channel)
}

// broadcast sends a message to every channel member, deduplicated by
// connection so that a server link carrying several members hears it once.
// exclude suppresses delivery to one connection (typically the sender's).
func (channel *Channel) broadcast(exclude *Connection, prefix, command string, params ...string) {
	sent := make(map[*Connection]bool)
	if exclude != nil {
		sent[exclude] = true
	}
	for _, member := range channel.Members() {
		conn := member.Connection()
		if conn == nil || sent[conn] {
			continue
		}
		sent[conn] = true
		conn.Send(nil, prefix, command, params...)
	}
}

// CanSpeak determines whether a talker may send a PRIVMSG or NOTICE to the
// channel.
func (channel *Channel) CanSpeak(t Talker) bool {
	user, isUser := t.(*User)
	if !isUser {
		// peers and services are not subject to channel modes
		return true
	}

	member := channel.memberModes(user)
	if member == nil && channel.flags.HasMode(modes.NoOutside) {
		return false
	}
	if channel.flags.HasMode(modes.Moderated) &&
		!member.HasMode(modes.ChannelOperator) && !member.HasMode(modes.Voice) {
		return false
	}
	nickMask := user.NickMaskCasefolded()
	if channel.lists[modes.BanMask].Match(nickMask) &&
		!channel.lists[modes.ExceptMask].Match(nickMask) &&
		!member.HasMode(modes.ChannelOperator) && !member.HasMode(modes.Voice) {
		return false
	}
	return true
}

// SendMessage relays a PRIVMSG or NOTICE to the channel membership, skipping
// the sender's own connection.
func (channel *Channel) SendMessage(sender Talker, command, message string) error {
	if !channel.CanSpeak(sender) {
		return errNoSuchTalker
	}
	channel.broadcast(sender.Connection(), sender.NickMaskString(), command, channel.name, message)
	return nil
}

func (channel *Channel) Topic() string {
	channel.stateMutex.RLock()
	defer channel.stateMutex.RUnlock()
	return channel.topic
}

// SendTopic sends the channel topic (or its absence) to a talker.
func (channel *Channel) SendTopic(t Talker) {
	server := channel.server
	channel.stateMutex.RLock()
	topic, setBy, setTime := channel.topic, channel.topicSetBy, channel.topicSetTime
	channel.stateMutex.RUnlock()

	if topic == "" {
		t.Send(nil, server.name, RPL_NOTOPIC, t.Nick(), channel.name, "No topic is set")
		return
	}
	t.Send(nil, server.name, RPL_TOPIC, t.Nick(), channel.name, topic)
	t.Send(nil, server.name, RPL_TOPICTIME, t.Nick(), channel.name, setBy, strconv.FormatInt(setTime.Unix(), 10))
}

// SetTopic records a new topic and echoes it to the channel. The caller is
// responsible for permission checks.
func (channel *Channel) SetTopic(t Talker, topic string) {
	channel.stateMutex.Lock()
	channel.topic = topic
	channel.topicSetBy = t.NickMaskString()
	channel.topicSetTime = time.Now().UTC()
	channel.stateMutex.Unlock()

	channel.broadcast(nil, t.NickMaskString(), "TOPIC", channel.name, topic)
	channel.server.persistChannel(channel)
}

// modeString renders the channel's modes for RPL_CHANNELMODEIS, with the key
// and limit arguments appended.
func (channel *Channel) modeString() (result string) {
	channel.stateMutex.RLock()
	key, userLimit := channel.key, channel.userLimit
	channel.stateMutex.RUnlock()

	result = "+" + channel.flags.String()
	var args string
	if key != "" {
		result += string(modes.Key)
		args += " " + key
	}
	if userLimit > 0 {
		result += string(modes.UserLimit)
		args += " " + strconv.Itoa(userLimit)
	}
	return result + args
}

// Names sends the 353/366 names burst for this channel to a talker.
func (channel *Channel) Names(t Talker) {
	server := channel.server

	channel.stateMutex.RLock()
	nicks := make([]string, 0, len(channel.members))
	for member, memberModes := range channel.members {
		nicks = append(nicks, memberModes.Prefixes(false)+member.Nick())
	}
	channel.stateMutex.RUnlock()

	for _, line := range joinedLen(nicks) {
		t.Send(nil, server.name, RPL_NAMREPLY, t.Nick(), "=", channel.name, line)
	}
	t.Send(nil, server.name, RPL_ENDOFNAMES, t.Nick(), channel.name, "End of NAMES list")
}

// joinedLen joins words into space-separated lines short enough to fit in a
// reply parameter.
func joinedLen(words []string) (lines []string) {
	var line string
	for _, word := range words {
		if line == "" {
			line = word
		} else if len(line)+len(word)+1 <= 400 {
			line = line + " " + word
		} else {
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return
}
