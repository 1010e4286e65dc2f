// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"fmt"
	"sync"
	"time"

	"github.com/talkerd/talkerd/irc/modes"
	"github.com/talkerd/talkerd/irc/utils"
)

// Talker is any protocol actor that can originate and receive messages: a
// user, a linked peer server, or a network service. Local talkers own their
// connection; talkers introduced over a server link share that link as their
// origin connection.
type Talker interface {
	Nick() string
	NickCasefolded() string
	Skeleton() string
	NickMaskString() string
	Registered() bool
	SetRegistered()
	Connection() *Connection
	IsLocal() bool
	ServerName() string
	HopCount() int
	Send(tags map[string]string, prefix string, command string, params ...string) error

	base() *talkerBase
}

type talkerBase struct {
	server *Server
	conn   *Connection

	stateMutex     sync.RWMutex // tier 1
	nick           string
	nickCasefolded string
	skeleton       string
	registered     bool
	serverName     string
	hopCount       int
}

func (b *talkerBase) base() *talkerBase {
	return b
}

func (base *talkerBase) Nick() string {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.nick
}

func (base *talkerBase) NickCasefolded() string {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.nickCasefolded
}

func (base *talkerBase) Skeleton() string {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.skeleton
}

func (base *talkerBase) Registered() bool {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.registered
}

func (base *talkerBase) SetRegistered() {
	base.stateMutex.Lock()
	base.registered = true
	base.stateMutex.Unlock()
}

func (base *talkerBase) Connection() *Connection {
	return base.conn
}

func (base *talkerBase) IsLocal() bool {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.hopCount == 0
}

func (base *talkerBase) ServerName() string {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.serverName
}

func (base *talkerBase) HopCount() int {
	base.stateMutex.RLock()
	defer base.stateMutex.RUnlock()
	return base.hopCount
}

// Send routes a message towards this talker via its origin connection. For a
// remote talker that connection is the server link it was introduced over.
func (base *talkerBase) Send(tags map[string]string, prefix string, command string, params ...string) error {
	if base.conn == nil {
		return errConnectionClosed
	}
	return base.conn.Send(tags, prefix, command, params...)
}

// User is a talker of type user, local or remote.
type User struct {
	talkerBase
	ctime time.Time
	modes modes.ModeSet

	username           string
	hostname           string
	realname           string
	nickMaskString     string
	nickMaskCasefolded string
	awayMessage        string
	channels           map[*Channel]bool
	invitedTo          map[string]bool
	idleTouch          time.Time
	operName           string
}

// NewUser creates the unregistered user talker for a fresh client connection.
func NewUser(server *Server, conn *Connection) *User {
	now := time.Now().UTC()
	user := &User{
		ctime:     now,
		channels:  make(map[*Channel]bool),
		idleTouch: now,
	}
	user.server = server
	user.conn = conn
	user.serverName = server.name
	user.nick = "*"
	user.nickCasefolded = "*"
	return user
}

// newRemoteUser creates a user introduced over a server link.
func newRemoteUser(server *Server, link *Connection, nick, username, hostname, serverName string, hopCount int, realname string) (*User, error) {
	cfnick, err := CasefoldName(nick)
	if err != nil {
		return nil, errNicknameInvalid
	}
	skeleton, err := Skeleton(nick)
	if err != nil {
		return nil, errNicknameInvalid
	}
	now := time.Now().UTC()
	user := &User{
		ctime:     now,
		username:  username,
		hostname:  hostname,
		realname:  realname,
		channels:  make(map[*Channel]bool),
		idleTouch: now,
	}
	user.server = server
	user.conn = link
	user.nick = nick
	user.nickCasefolded = cfnick
	user.skeleton = skeleton
	user.serverName = serverName
	user.hopCount = hopCount
	user.registered = true
	user.updateNickMask()
	return user, nil
}

func (user *User) Username() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.username
}

func (user *User) SetUsername(username string) {
	user.stateMutex.Lock()
	user.username = username
	user.stateMutex.Unlock()
	user.updateNickMask()
}

func (user *User) Hostname() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.hostname
}

func (user *User) SetHostname(hostname string) {
	user.stateMutex.Lock()
	user.hostname = hostname
	user.stateMutex.Unlock()
	user.updateNickMask()
}

func (user *User) Realname() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.realname
}

func (user *User) SetRealname(realname string) {
	user.stateMutex.Lock()
	user.realname = realname
	user.stateMutex.Unlock()
}

func (user *User) updateNickMask() {
	user.stateMutex.Lock()
	defer user.stateMutex.Unlock()
	username := user.username
	if username == "" {
		username = "*"
	}
	hostname := user.hostname
	if hostname == "" {
		hostname = "*"
	}
	user.nickMaskString = fmt.Sprintf("%s!%s@%s", user.nick, username, hostname)
	if cfmask, err := Casefold(user.nickMaskString); err == nil {
		user.nickMaskCasefolded = cfmask
	} else {
		user.nickMaskCasefolded = user.nickMaskString
	}
}

// NickMaskCasefolded returns the casefolded nick!user@host mask, for matching
// against ban-style mask lists.
func (user *User) NickMaskCasefolded() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.nickMaskCasefolded
}

// NickMaskString returns the nick!user@host mask used as this user's message
// prefix.
func (user *User) NickMaskString() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.nickMaskString
}

func (user *User) AwayMessage() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.awayMessage
}

func (user *User) SetAwayMessage(message string) {
	user.stateMutex.Lock()
	user.awayMessage = message
	user.stateMutex.Unlock()
	if message == "" {
		user.modes.SetMode(modes.Away, false)
	} else {
		user.modes.SetMode(modes.Away, true)
	}
}

func (user *User) HasMode(mode modes.Mode) bool {
	return user.modes.HasMode(mode)
}

func (user *User) SetMode(mode modes.Mode, on bool) bool {
	return user.modes.SetMode(mode, on)
}

func (user *User) ModeString() string {
	return "+" + user.modes.String()
}

func (user *User) OperName() string {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return user.operName
}

func (user *User) SetOperName(name string) {
	user.stateMutex.Lock()
	user.operName = name
	user.stateMutex.Unlock()
}

// Channels returns a snapshot of the user's channel memberships.
func (user *User) Channels() []*Channel {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	result := make([]*Channel, 0, len(user.channels))
	for channel := range user.channels {
		result = append(result, channel)
	}
	return result
}

func (user *User) NumChannels() int {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return len(user.channels)
}

func (user *User) addChannel(channel *Channel) {
	user.stateMutex.Lock()
	user.channels[channel] = true
	user.stateMutex.Unlock()
}

func (user *User) removeChannel(channel *Channel) {
	user.stateMutex.Lock()
	delete(user.channels, channel)
	user.stateMutex.Unlock()
}

// Invite records an invitation to a channel, by casefolded name.
func (user *User) Invite(casefoldedChannel string) {
	user.stateMutex.Lock()
	if user.invitedTo == nil {
		user.invitedTo = make(map[string]bool)
	}
	user.invitedTo[casefoldedChannel] = true
	user.stateMutex.Unlock()
}

// CheckInvited returns true and consumes the invitation if one exists.
func (user *User) CheckInvited(casefoldedChannel string) bool {
	user.stateMutex.Lock()
	defer user.stateMutex.Unlock()
	if user.invitedTo[casefoldedChannel] {
		delete(user.invitedTo, casefoldedChannel)
		return true
	}
	return false
}

func (user *User) Touch() {
	user.stateMutex.Lock()
	user.idleTouch = time.Now().UTC()
	user.stateMutex.Unlock()
}

func (user *User) IdleSeconds() uint64 {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return uint64(time.Since(user.idleTouch).Seconds())
}

func (user *User) SignonTime() int64 {
	return user.ctime.Unix()
}

// details returns the immutable-for-WHOWAS view of the user.
func (user *User) details() WhoWas {
	user.stateMutex.RLock()
	defer user.stateMutex.RUnlock()
	return WhoWas{
		Nick:           user.nick,
		NickCasefolded: user.nickCasefolded,
		Username:       user.username,
		Hostname:       user.hostname,
		Realname:       user.realname,
		ServerName:     user.serverName,
		Time:           time.Now().UTC(),
	}
}

// Peer is a talker of type server: a directly linked peer, or a server
// introduced behind one.
type Peer struct {
	talkerBase
	ctime       time.Time
	description string
}

func NewPeer(server *Server, conn *Connection, name, description string, hopCount int) (*Peer, error) {
	cfname, err := Casefold(name)
	if err != nil || !utils.IsServerName(name) {
		return nil, errServerNameInUse
	}
	peer := &Peer{
		ctime:       time.Now().UTC(),
		description: description,
	}
	peer.server = server
	peer.conn = conn
	peer.nick = name
	peer.nickCasefolded = cfname
	peer.skeleton = cfname
	peer.serverName = name
	peer.hopCount = hopCount
	return peer, nil
}

// NickMaskString for a peer is its server name.
func (peer *Peer) NickMaskString() string {
	return peer.Nick()
}

func (peer *Peer) Description() string {
	return peer.description
}

// Service is a talker of type service, local or remote.
type Service struct {
	talkerBase
	ctime        time.Time
	distribution string
	serviceType  string
	info         string
}

func NewService(server *Server, conn *Connection, nick, distribution, serviceType, info string, hopCount int) (*Service, error) {
	cfnick, err := CasefoldName(nick)
	if err != nil {
		return nil, errNicknameInvalid
	}
	skeleton, err := Skeleton(nick)
	if err != nil {
		return nil, errNicknameInvalid
	}
	service := &Service{
		ctime:        time.Now().UTC(),
		distribution: distribution,
		serviceType:  serviceType,
		info:         info,
	}
	service.server = server
	service.conn = conn
	service.nick = nick
	service.nickCasefolded = cfnick
	service.skeleton = skeleton
	service.serverName = server.name
	service.hopCount = hopCount
	return service, nil
}

func (service *Service) NickMaskString() string {
	return fmt.Sprintf("%s@%s", service.Nick(), service.ServerName())
}

func (service *Service) Distribution() string {
	return service.distribution
}

func (service *Service) Info() string {
	return service.info
}
