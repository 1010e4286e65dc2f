// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2017-2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"sync"

	"github.com/talkerd/talkerd/irc/modes"
)

// Registry is the single shared directory of protocol state: every talker
// (user, peer server, service) keyed by casefolded identifier, every channel,
// every live connection, and the WHOWAS archive. All cross-connection
// lookups and uniqueness decisions go through here.
type Registry struct {
	sync.RWMutex // tier 2
	server       *Server

	byNick     map[string]Talker
	bySkeleton map[string]Talker
	channels   map[string]*Channel

	connections map[*Connection]bool

	whowas WhoWasList
}

func (registry *Registry) Initialize(server *Server, whowasCap int) {
	registry.server = server
	registry.byNick = make(map[string]Talker)
	registry.bySkeleton = make(map[string]Talker)
	registry.channels = make(map[string]*Channel)
	registry.connections = make(map[*Connection]bool)
	registry.whowas.Initialize(whowasCap)
}

// AddConnection records a freshly accepted connection.
func (registry *Registry) AddConnection(conn *Connection) {
	registry.Lock()
	registry.connections[conn] = true
	registry.Unlock()
}

// Connections returns a snapshot of all live connections.
func (registry *Registry) Connections() []*Connection {
	registry.RLock()
	defer registry.RUnlock()
	result := make([]*Connection, 0, len(registry.connections))
	for conn := range registry.connections {
		result = append(result, conn)
	}
	return result
}

// Get looks up a talker by nickname or server name.
func (registry *Registry) Get(name string) Talker {
	cfname, err := Casefold(name)
	if err != nil {
		return nil
	}
	registry.RLock()
	defer registry.RUnlock()
	return registry.byNick[cfname]
}

// GetUser looks up a talker by nickname, returning it only if it is a user.
func (registry *Registry) GetUser(nick string) *User {
	user, _ := registry.Get(nick).(*User)
	return user
}

// ClaimNick installs or renames a talker under a unique identifier. The
// identifier must be free both casefolded and by confusable skeleton;
// otherwise nothing changes.
func (registry *Registry) ClaimNick(t Talker, newNick string) error {
	var cfnick, skeleton string
	var err error
	if _, isPeer := t.(*Peer); isPeer {
		cfnick, err = Casefold(newNick)
		if err != nil {
			return errNicknameInvalid
		}
		skeleton = cfnick
	} else {
		cfnick, err = CasefoldName(newNick)
		if err != nil {
			return errNicknameInvalid
		}
		skeleton, err = Skeleton(newNick)
		if err != nil {
			return errNicknameInvalid
		}
	}

	registry.Lock()
	defer registry.Unlock()

	if occupant := registry.byNick[cfnick]; occupant != nil && occupant != t {
		if _, isPeer := t.(*Peer); isPeer {
			return errServerNameInUse
		}
		return errNicknameInUse
	}
	if occupant := registry.bySkeleton[skeleton]; occupant != nil && occupant != t {
		return errConfusableIdentifier
	}

	base := t.base()
	base.stateMutex.Lock()
	oldcfnick, oldskeleton := base.nickCasefolded, base.skeleton
	base.nick = newNick
	base.nickCasefolded = cfnick
	base.skeleton = skeleton
	base.stateMutex.Unlock()

	if oldcfnick != "" && oldcfnick != "*" {
		delete(registry.byNick, oldcfnick)
		delete(registry.bySkeleton, oldskeleton)
	}
	registry.byNick[cfnick] = t
	registry.bySkeleton[skeleton] = t

	if user, ok := t.(*User); ok {
		user.updateNickMask()
	}
	return nil
}

// Remove drops a talker from the directory. A registered user is archived to
// WHOWAS on the way out.
func (registry *Registry) Remove(t Talker) {
	registry.Lock()
	registry.removeLocked(t)
	registry.Unlock()
}

func (registry *Registry) removeLocked(t Talker) {
	cfnick := t.NickCasefolded()
	if registry.byNick[cfnick] == t {
		delete(registry.byNick, cfnick)
		delete(registry.bySkeleton, t.Skeleton())
	}
	if user, ok := t.(*User); ok && user.Registered() {
		registry.whowas.Append(user.details())
	}
}

// WhoWas returns archived entries for a departed nickname, newest first.
func (registry *Registry) WhoWas(nick string, limit int) []WhoWas {
	return registry.whowas.Find(nick, limit)
}

// GetChannel looks up a channel by name.
func (registry *Registry) GetChannel(name string) *Channel {
	cfname, err := CasefoldChannel(name)
	if err != nil {
		return nil
	}
	registry.RLock()
	defer registry.RUnlock()
	return registry.channels[cfname]
}

// Channels returns a snapshot of all channels.
func (registry *Registry) Channels() []*Channel {
	registry.RLock()
	defer registry.RUnlock()
	result := make([]*Channel, 0, len(registry.channels))
	for _, channel := range registry.channels {
		result = append(result, channel)
	}
	return result
}

// Join adds a user to a channel, creating the channel if it doesn't exist.
// The returned error, if any, names the join precondition that failed.
func (registry *Registry) Join(user *User, name string, key string) (*Channel, error) {
	cfname, err := CasefoldChannel(name)
	if err != nil {
		return nil, errNoSuchChannel
	}

	registry.Lock()
	channel := registry.channels[cfname]
	created := false
	if channel == nil {
		channel = NewChannel(registry.server, name, cfname)
		registry.channels[cfname] = channel
		created = true
	}
	registry.Unlock()

	err = channel.Join(user, key, created)
	if err != nil && created {
		registry.MaybeRemoveChannel(channel)
	}
	return channel, err
}

// MaybeRemoveChannel drops a channel from the directory once its last member
// is gone.
func (registry *Registry) MaybeRemoveChannel(channel *Channel) {
	registry.Lock()
	defer registry.Unlock()
	if channel.IsEmpty() && registry.channels[channel.NameCasefolded()] == channel {
		delete(registry.channels, channel.NameCasefolded())
	}
}

// RegistryCounts is a snapshot of directory population, for LUSERS.
type RegistryCounts struct {
	Users        int
	Invisible    int
	Opers        int
	Peers        int
	Services     int
	Channels     int
	Unregistered int
}

func (registry *Registry) Counts() (counts RegistryCounts) {
	registry.RLock()
	defer registry.RUnlock()

	for _, t := range registry.byNick {
		switch talker := t.(type) {
		case *User:
			counts.Users++
			if talker.HasMode(modes.Invisible) {
				counts.Invisible++
			}
			if talker.HasMode(modes.Operator) {
				counts.Opers++
			}
		case *Peer:
			counts.Peers++
		case *Service:
			counts.Services++
		}
	}
	counts.Channels = len(registry.channels)
	for conn := range registry.connections {
		if conn.State() == ConnStateNew {
			counts.Unregistered++
		}
	}
	return
}

// Users returns a snapshot of all registered users.
func (registry *Registry) Users() []*User {
	registry.RLock()
	defer registry.RUnlock()
	result := make([]*User, 0, len(registry.byNick))
	for _, t := range registry.byNick {
		if user, ok := t.(*User); ok {
			result = append(result, user)
		}
	}
	return result
}

// Peers returns a snapshot of all known server talkers.
func (registry *Registry) Peers() []*Peer {
	registry.RLock()
	defer registry.RUnlock()
	result := make([]*Peer, 0)
	for _, t := range registry.byNick {
		if peer, ok := t.(*Peer); ok {
			result = append(result, peer)
		}
	}
	return result
}

// PeerLinks returns the connections that are direct server links.
func (registry *Registry) PeerLinks() []*Connection {
	registry.RLock()
	defer registry.RUnlock()
	result := make([]*Connection, 0)
	for conn := range registry.connections {
		if _, isPeer := conn.Talker().(*Peer); isPeer {
			result = append(result, conn)
		}
	}
	return result
}

// ReapConnection removes a broken connection and returns the talkers that
// originated over it, exactly once; a second call for the same connection
// returns reaped == false.
func (registry *Registry) ReapConnection(conn *Connection) (orphans []Talker, reaped bool) {
	registry.Lock()
	defer registry.Unlock()

	if !registry.connections[conn] {
		return nil, false
	}
	delete(registry.connections, conn)

	for _, t := range registry.byNick {
		if t.Connection() == conn {
			orphans = append(orphans, t)
		}
	}
	for _, t := range orphans {
		registry.removeLocked(t)
	}
	return orphans, true
}
