// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/talkerd/talkerd/irc/isupport"
	"github.com/talkerd/talkerd/irc/logger"
	"github.com/talkerd/talkerd/irc/utils"
)

// AdminInfo represents our ADMIN replies.
type AdminInfo struct {
	Location     string
	Organization string
	Email        string
}

// LinkConfig is an authorized server link.
type LinkConfig struct {
	Address  string
	Password string
}

// Oper represents an operator block.
type Oper struct {
	Password string
}

// Config defines the overall configuration.
type Config struct {
	Network struct {
		Name string
	}

	Server struct {
		Name               string
		nameCasefolded     string
		Description        string
		Listeners          []string
		WebsocketListeners []string `yaml:"websocket-listeners"`
		MOTD               string
		Password           string
		CheckIdent         bool `yaml:"check-ident"`
		LookupHostnames    bool `yaml:"lookup-hostnames"`
		Admin              AdminInfo
		Links              map[string]LinkConfig
	}

	Datastore struct {
		Path string
	}

	Limits struct {
		NickLen            int `yaml:"nicklen"`
		ChannelLen         int `yaml:"channellen"`
		TopicLen           int `yaml:"topiclen"`
		MaxChannelsPerUser int `yaml:"max-channels-per-user"`
		WhowasEntries      int `yaml:"whowas-entries"`
		SendQLength        int `yaml:"sendq-length"`
	}

	Timeouts struct {
		PingPeriod      time.Duration `yaml:"ping-period"`
		PingTimeout     time.Duration `yaml:"ping-timeout"`
		RegisterTimeout time.Duration `yaml:"register-timeout"`
		ReapPeriod      time.Duration `yaml:"reap-period"`
	}

	Operators map[string]Oper `yaml:"opers"`

	Logging []logger.LoggingConfig

	Metrics struct {
		Enabled  bool
		Listener string
	}

	Filename string `yaml:"-"`

	isupportList *isupport.List
}

// ISupport returns the cached RPL_ISUPPORT token list for this configuration.
func (config *Config) ISupport() *isupport.List {
	return config.isupportList
}

func (config *Config) generateISupport() error {
	il := isupport.NewList()
	il.Add("CASEMAPPING", "rfc8265")
	il.Add("CHANLIMIT", fmt.Sprintf("#&:%d", config.Limits.MaxChannelsPerUser))
	il.Add("CHANMODES", "beI,k,l,imnpst")
	il.Add("CHANNELLEN", strconv.Itoa(config.Limits.ChannelLen))
	il.Add("CHANTYPES", "#&")
	il.Add("EXCEPTS", "e")
	il.Add("INVEX", "I")
	il.Add("NETWORK", config.Network.Name)
	il.Add("NICKLEN", strconv.Itoa(config.Limits.NickLen))
	il.Add("PREFIX", "(ov)@+")
	il.Add("TOPICLEN", strconv.Itoa(config.Limits.TopicLen))

	err := il.RegenerateCachedReply()
	if err != nil {
		return err
	}
	config.isupportList = il
	return nil
}

// LoadConfig loads the given YAML configuration file.
func LoadConfig(filename string) (config *Config, err error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}

	config.Filename = filename

	if config.Network.Name == "" {
		config.Network.Name = "talkerd"
	}
	if config.Server.Name == "" {
		return nil, ErrServerNameMissing
	}
	if !utils.IsServerName(config.Server.Name) {
		return nil, ErrServerNameNotHostname
	}
	config.Server.nameCasefolded, err = Casefold(config.Server.Name)
	if err != nil {
		return nil, ErrServerNameNotHostname
	}
	if config.Datastore.Path == "" {
		return nil, ErrDatastorePathMissing
	}
	if len(config.Server.Listeners) == 0 && len(config.Server.WebsocketListeners) == 0 {
		return nil, ErrNoListenersDefined
	}

	if config.Limits.NickLen < 1 || config.Limits.ChannelLen < 2 || config.Limits.TopicLen < 1 {
		return nil, ErrLimitsAreInsane
	}
	if config.Limits.MaxChannelsPerUser == 0 {
		config.Limits.MaxChannelsPerUser = 10
	}
	if config.Limits.WhowasEntries == 0 {
		config.Limits.WhowasEntries = 16
	}
	if config.Limits.SendQLength == 0 {
		config.Limits.SendQLength = 128
	}
	if config.Timeouts.PingPeriod == 0 {
		config.Timeouts.PingPeriod = 90 * time.Second
	}
	if config.Timeouts.PingTimeout == 0 {
		config.Timeouts.PingTimeout = time.Minute
	}
	if config.Timeouts.RegisterTimeout == 0 {
		config.Timeouts.RegisterTimeout = time.Minute
	}
	if config.Timeouts.ReapPeriod == 0 {
		config.Timeouts.ReapPeriod = 5 * time.Second
	}

	// process logging configs
	for i, logConfig := range config.Logging {
		methods := make(map[string]bool)
		for _, method := range strings.Split(logConfig.Method, " ") {
			if len(method) > 0 {
				methods[strings.ToLower(method)] = true
			}
		}
		if methods["file"] && logConfig.Filename == "" {
			return nil, errors.New("Logging configuration specifies 'file' method but 'filename' is empty")
		}
		config.Logging[i].MethodFile = methods["file"]
		config.Logging[i].MethodStdout = methods["stdout"]
		config.Logging[i].MethodStderr = methods["stderr"]

		level, exists := logger.LogLevelNames[strings.ToLower(logConfig.LevelString)]
		if !exists {
			return nil, fmt.Errorf("Could not translate log level [%s]", logConfig.LevelString)
		}
		config.Logging[i].Level = level

		for _, typeStr := range strings.Split(logConfig.TypeString, " ") {
			if len(typeStr) == 0 {
				continue
			}
			if typeStr == "-" {
				return nil, errors.New("Encountered logging type '-' with no type to exclude")
			}
			if typeStr[0] == '-' {
				config.Logging[i].ExcludedTypes = append(config.Logging[i].ExcludedTypes, typeStr[1:])
			} else {
				config.Logging[i].Types = append(config.Logging[i].Types, typeStr)
			}
		}
		if len(config.Logging[i].Types) == 0 {
			return nil, errors.New("Logger has no types to log")
		}
	}

	err = config.generateISupport()
	if err != nil {
		return nil, err
	}

	return config, nil
}
