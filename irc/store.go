// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/talkerd/talkerd/irc/modes"
)

const (
	// 'version' of the database schema
	keySchemaVersion = "db.version"
	// latest schema of the db
	latestDbSchema = "1"

	keyChannelRegistration = "channel.registration %s"
)

// RegisteredChannel is the persisted form of a channel: everything that
// should survive a restart.
type RegisteredChannel struct {
	Name         string
	Topic        string
	TopicSetBy   string
	TopicSetTime int64
	Flags        string
	Key          string
	UserLimit    int
	Bans         []string
	Excepts      []string
	Invites      []string
}

// InitDB creates the database, implementing the `talkerd initdb` command.
func InitDB(path string) {
	_, err := os.Stat(path)
	if err == nil {
		log.Fatal("Datastore already exists (delete it manually to continue): ", path)
	} else if !os.IsNotExist(err) {
		log.Fatal("Datastore path is inaccessible: ", err.Error())
	}

	err = initializeDB(path)
	if err != nil {
		log.Fatal("Could not save datastore: ", err.Error())
	}
}

func initializeDB(path string) error {
	store, err := buntdb.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Update(func(tx *buntdb.Tx) error {
		tx.Set(keySchemaVersion, latestDbSchema, nil)
		return nil
	})

	return err
}

// OpenDatabase returns an existing database, performing a schema version check.
func OpenDatabase(config *Config) (*buntdb.DB, error) {
	store, err := buntdb.Open(config.Datastore.Path)
	if err != nil {
		return nil, err
	}

	err = store.View(func(tx *buntdb.Tx) error {
		version, err := tx.Get(keySchemaVersion)
		if err != nil {
			return err
		}
		if version != latestDbSchema {
			return fmt.Errorf("Datastore schema is %s, expected %s", version, latestDbSchema)
		}
		return nil
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// persistChannel saves a channel's registration so its topic, modes and mask
// lists survive a restart.
func (server *Server) persistChannel(channel *Channel) {
	store := server.Store()
	if store == nil {
		return
	}

	channel.stateMutex.RLock()
	registration := RegisteredChannel{
		Name:         channel.name,
		Topic:        channel.topic,
		TopicSetBy:   channel.topicSetBy,
		TopicSetTime: channel.topicSetTime.Unix(),
		Key:          channel.key,
		UserLimit:    channel.userLimit,
	}
	channel.stateMutex.RUnlock()
	registration.Flags = channel.flags.String()
	registration.Bans = channel.List(modes.BanMask).Masks()
	registration.Excepts = channel.List(modes.ExceptMask).Masks()
	registration.Invites = channel.List(modes.InviteMask).Masks()

	blob, err := json.Marshal(registration)
	if err != nil {
		server.logger.Error("internal", "couldn't serialize channel", channel.Name(), err.Error())
		return
	}

	key := fmt.Sprintf(keyChannelRegistration, channel.NameCasefolded())
	err = store.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(blob), nil)
		return err
	})
	if err != nil {
		server.logger.Error("internal", "couldn't persist channel", channel.Name(), err.Error())
	}
}

// restoreChannel applies a persisted registration, if any, to a newly created
// channel.
func (server *Server) restoreChannel(channel *Channel) {
	store := server.Store()
	if store == nil {
		return
	}

	key := fmt.Sprintf(keyChannelRegistration, channel.NameCasefolded())
	var blob string
	err := store.View(func(tx *buntdb.Tx) error {
		var err error
		blob, err = tx.Get(key)
		return err
	})
	if err != nil {
		// not registered
		return
	}

	var registration RegisteredChannel
	if err := json.Unmarshal([]byte(blob), &registration); err != nil {
		server.logger.Error("internal", "corrupt channel registration", channel.Name(), err.Error())
		return
	}

	channel.stateMutex.Lock()
	channel.topic = registration.Topic
	channel.topicSetBy = registration.TopicSetBy
	channel.topicSetTime = time.Unix(registration.TopicSetTime, 0).UTC()
	channel.key = registration.Key
	channel.userLimit = registration.UserLimit
	channel.stateMutex.Unlock()

	for _, flag := range registration.Flags {
		channel.flags.SetMode(modes.Mode(flag), true)
	}
	for _, mask := range registration.Bans {
		channel.List(modes.BanMask).Add(mask)
	}
	for _, mask := range registration.Excepts {
		channel.List(modes.ExceptMask).Add(mask)
	}
	for _, mask := range registration.Invites {
		channel.List(modes.InviteMask).Add(mask)
	}
}
