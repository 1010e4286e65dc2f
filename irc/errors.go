// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2017-2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import "errors"

// Runtime errors
var (
	errBadChannelKey        = errors.New("Cannot join channel (+k)")
	errBannedFromChannel    = errors.New("Cannot join channel (+b)")
	errInviteOnlyChannel    = errors.New("Cannot join channel (+i)")
	errChannelFull          = errors.New("Cannot join channel (+l)")
	errTooManyChannels      = errors.New("You have joined too many channels")
	errNoSuchChannel        = errors.New("No such channel")
	errChannelNameInUse     = errors.New("Channel name in use")
	errNicknameInUse        = errors.New("Nickname is already in use")
	errNicknameInvalid      = errors.New("Erroneous nickname")
	errConfusableIdentifier = errors.New("This identifier is too confusable with one already in use")
	errServerNameInUse      = errors.New("Server name is already in use")
	errNotOnChannel         = errors.New("You're not on that channel")
	errUnknownPrefix        = errors.New("Message prefix does not name a known talker")
	errSpoofedPrefix        = errors.New("Message prefix names a talker the link has no authority over")
	errConnectionClosed     = errors.New("Connection closed")
	errSendQExceeded        = errors.New("SendQ exceeded")
	errReadQExceeded        = errors.New("ReadQ exceeded")
	errInvalidUsername      = errors.New("Invalid username")
	errNoSuchTalker         = errors.New("No such nick/channel")
	errInsufficientPrivs    = errors.New("Insufficient privileges")
)

// Config errors
var (
	ErrDatastorePathMissing  = errors.New("Datastore path missing")
	ErrLimitsAreInsane       = errors.New("Limits aren't setup properly, check them and make them sane")
	ErrServerNameMissing     = errors.New("Server name missing")
	ErrServerNameNotHostname = errors.New("Server name must match the format of a hostname")
	ErrNoListenersDefined    = errors.New("Server listening addresses missing")
	ErrMOTDNotFound          = errors.New("Couldn't read MOTD")
)
