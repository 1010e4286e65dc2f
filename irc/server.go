// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2017-2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	ident "github.com/ergochat/go-ident"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/gorilla/websocket"
	"github.com/okzk/sdnotify"
	"github.com/tidwall/buntdb"

	"github.com/talkerd/talkerd/irc/flock"
	"github.com/talkerd/talkerd/irc/logger"
	"github.com/talkerd/talkerd/irc/metering"
	"github.com/talkerd/talkerd/irc/modes"
	"github.com/talkerd/talkerd/irc/utils"
)

var (
	// ServerExitSignals are the signals the server will exit on.
	ServerExitSignals = []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	}

	// IdentTimeout is how long before our ident (username) check times out.
	IdentTimeout = time.Second + 500*time.Millisecond

	commandMeterWindow = 512
)

// Server is the root of the daemon: it owns the registry, the listeners, the
// reaper and the configuration.
type Server struct {
	name  string
	ctime time.Time

	configMutex    sync.RWMutex
	config         *Config
	configFilename string
	motdLines      []string

	logger   *logger.Manager
	registry Registry
	store    *buntdb.DB
	dbFlock  flock.Flocker

	listeners []net.Listener
	wsServers []*http.Server
	newConns  chan IRCConn

	signals      chan os.Signal
	rehashSignal chan os.Signal
	exitSignal   chan bool

	commandStatsMutex sync.Mutex
	commandStats      map[string]*commandStat

	trafficMeter *metering.IntervalMeter
}

type commandStat struct {
	uses  int64
	meter *metering.Meter
}

// CommandStat is a per-command usage summary, for STATS m.
type CommandStat struct {
	Command       string
	Uses          int64
	AverageMicros int64
}

// NewServer returns a new Server instance from the given config.
func NewServer(config *Config, logManager *logger.Manager) (*Server, error) {
	server := &Server{
		name:           config.Server.Name,
		ctime:          time.Now().UTC(),
		config:         config,
		configFilename: config.Filename,
		logger:         logManager,
		newConns:       make(chan IRCConn),
		signals:        make(chan os.Signal, len(ServerExitSignals)),
		rehashSignal:   make(chan os.Signal, 1),
		exitSignal:     make(chan bool, 1),
		commandStats:   make(map[string]*commandStat),
		trafficMeter:   metering.NewIntervalMeter(int(time.Minute / config.Timeouts.ReapPeriod)),
	}
	server.registry.Initialize(server, config.Limits.WhowasEntries)

	dbFlock, err := flock.TryAcquireFlock(config.Datastore.Path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("failed to lock datastore: %v", err)
	}
	server.dbFlock = dbFlock

	store, err := OpenDatabase(config)
	if err != nil {
		dbFlock.Unlock()
		return nil, fmt.Errorf("failed to open datastore: %v", err)
	}
	server.store = store

	server.loadMOTD(config)

	if err := server.setupListeners(config); err != nil {
		store.Close()
		dbFlock.Unlock()
		return nil, err
	}

	if config.Metrics.Enabled {
		go server.serveMetrics(config.Metrics.Listener)
	}

	signal.Notify(server.signals, ServerExitSignals...)
	signal.Notify(server.rehashSignal, syscall.SIGHUP)

	return server, nil
}

// Config returns the current configuration.
func (server *Server) Config() *Config {
	server.configMutex.RLock()
	defer server.configMutex.RUnlock()
	return server.config
}

func (server *Server) Store() *buntdb.DB {
	return server.store
}

// Run starts the server loop; it returns whether a restart was requested.
func (server *Server) Run() (restart bool) {
	sdnotify.Ready()
	reapTicker := time.NewTicker(server.Config().Timeouts.ReapPeriod)
	defer reapTicker.Stop()

	for {
		select {
		case restart = <-server.exitSignal:
			server.shutdownNow()
			return restart

		case <-server.signals:
			server.Shutdown(false)

		case <-server.rehashSignal:
			server.logger.Info("server", "rehashing due to SIGHUP")
			if err := server.rehash(); err != nil {
				server.logger.Error("server", "rehash failed", err.Error())
			}

		case socket := <-server.newConns:
			go server.handleConnection(socket)

		case <-reapTicker.C:
			server.reap()
		}
	}
}

func (server *Server) setupListeners(config *Config) error {
	for _, addr := range config.Server.Listeners {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %v", addr, err)
		}
		server.listeners = append(server.listeners, listener)
		server.logger.Info("server", "listening on", addr)

		go func(listener net.Listener) {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				server.newConns <- NewIRCStreamConn(conn)
			}
		}(listener)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  maxReadQBytes,
		WriteBufferSize: maxReadQBytes,
		// websocket clients do their own origin checking at a higher layer
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	for _, addr := range config.Server.WebsocketListeners {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			wsConn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				server.logger.Warning("server", "websocket upgrade failed", err.Error())
				return
			}
			server.newConns <- NewIRCWSConn(wsConn)
		})
		wsServer := &http.Server{Addr: addr, Handler: mux}
		server.wsServers = append(server.wsServers, wsServer)
		server.logger.Info("server", "listening for websockets on", addr)
		go func(wsServer *http.Server) {
			wsServer.ListenAndServe()
		}(wsServer)
	}
	return nil
}

// handleConnection services a new socket: hostname and ident resolution, then
// the connection's own pipeline.
func (server *Server) handleConnection(socket IRCConn) {
	conn := NewConnection(server, socket)
	config := server.Config()

	connectionsAccepted.Inc()
	server.logger.Debug("connect-ip", "accepted connection")

	ip := conn.RealIP()
	hostname := ""
	if ip != nil {
		hostname = utils.IPStringToHostname(ip.String())
		if config.Server.LookupHostnames {
			if names, err := net.LookupAddr(ip.String()); err == nil && len(names) > 0 {
				candidate := strings.TrimSuffix(names[0], ".")
				if utils.IsHostname(candidate) {
					hostname = candidate
				}
			}
		}
	}
	conn.SetHostname(hostname)

	if config.Server.CheckIdent {
		server.lookupIdent(conn, socket)
	}

	user := NewUser(server, conn)
	user.SetHostname(hostname)
	conn.SetTalker(user)

	server.registry.AddConnection(conn)
	conn.run()
}

func (server *Server) lookupIdent(conn *Connection, socket IRCConn) {
	localTCPAddr, ok := socket.UnderlyingConn().LocalAddr().(*net.TCPAddr)
	if !ok {
		return
	}
	remoteTCPAddr, ok := socket.UnderlyingConn().RemoteAddr().(*net.TCPAddr)
	if !ok {
		return
	}
	resp, err := ident.Query(remoteTCPAddr.IP.String(), localTCPAddr.Port, remoteTCPAddr.Port, IdentTimeout)
	if err != nil {
		return
	}
	if isValidUsername(resp.Identifier) {
		conn.SetIdent(resp.Identifier)
	}
}

// processLine is the scheduler's dispatch path: parse, resolve the requestor,
// meter, and run the command.
func (server *Server) processLine(conn *Connection, line string) {
	if server.logger.IsLoggingRawIO() {
		server.logger.Debug("userinput", conn.Hostname(), "<- ", line)
	}

	msg, err := ircmsg.ParseLineStrict(line, true, MaxLineLen)
	if err == ircmsg.ErrorLineIsEmpty {
		return
	} else if err != nil {
		conn.MarkBroken("Malformed line")
		return
	}

	requestor, err := server.resolvePrefix(conn, &msg)
	if err == errUnknownPrefix {
		if _, isPeer := conn.Talker().(*Peer); isPeer {
			// a server link may reference talkers we have already dropped
			server.logger.Debug("server", "ignoring line with unknown prefix from peer", msg.Source)
			return
		}
		conn.MarkBroken("Spoofed message prefix")
		return
	} else if err != nil {
		server.logger.Warning("server", "spoofed prefix", msg.Source)
		conn.MarkBroken("Spoofed message prefix")
		return
	}

	server.trafficMeter.Record()

	cmd, exists := Commands[msg.Command]
	if !exists {
		if _, isPeer := requestor.(*Peer); isPeer {
			server.logger.Debug("server", "unknown command from peer", msg.Command)
		} else if !requestor.Registered() {
			requestor.Send(nil, server.name, ERR_NOTREGISTERED, replyTarget(requestor), "You have not registered")
		} else {
			requestor.Send(nil, server.name, ERR_UNKNOWNCOMMAND, replyTarget(requestor), msg.Command, "Unknown command")
		}
		return
	}

	if user, isUser := requestor.(*User); isUser {
		user.Touch()
	}

	started := time.Now()
	cmd.Run(server, conn, requestor, msg)
	server.recordCommand(msg.Command, time.Since(started))
}

func (server *Server) recordCommand(command string, elapsed time.Duration) {
	commandsProcessed.WithLabelValues(command).Inc()

	server.commandStatsMutex.Lock()
	stat := server.commandStats[command]
	if stat == nil {
		stat = &commandStat{meter: metering.NewMeter(commandMeterWindow)}
		server.commandStats[command] = stat
	}
	stat.uses++
	server.commandStatsMutex.Unlock()

	stat.meter.Record(elapsed.Microseconds())
}

// CommandStats returns a sorted usage summary of all commands seen so far.
func (server *Server) CommandStats() []CommandStat {
	server.commandStatsMutex.Lock()
	defer server.commandStatsMutex.Unlock()

	result := make([]CommandStat, 0, len(server.commandStats))
	for command, stat := range server.commandStats {
		result = append(result, CommandStat{
			Command:       command,
			Uses:          stat.uses,
			AverageMicros: stat.meter.Average(),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Command < result[j].Command })
	return result
}

// tryRegister completes registration once a new connection's talker has
// supplied everything the handshake needs.
func (server *Server) tryRegister(conn *Connection) {
	switch talker := conn.Talker().(type) {
	case *User:
		if talker.Registered() || talker.NickCasefolded() == "*" || talker.Username() == "" {
			return
		}
		config := server.Config()
		if config.Server.Password != "" && conn.Password() != config.Server.Password {
			talker.Send(nil, server.name, ERR_PASSWDMISMATCH, replyTarget(talker), "Password incorrect")
			conn.MarkBroken("Bad password")
			return
		}
		talker.SetRegistered()
		conn.setOperational()
		talkersRegistered.Inc()
		server.logger.Info("connect", "registered", talker.Nick())
		server.sendWelcome(talker)
		server.propagateUserIntro(talker)

	case *Service:
		if talker.Registered() || talker.NickCasefolded() == "*" {
			return
		}
		talker.SetRegistered()
		conn.setOperational()
		talkersRegistered.Inc()
		server.logger.Info("connect", "registered service", talker.Nick())
		talker.Send(nil, server.name, RPL_YOURESERVICE, talker.Nick(), "You are service "+talker.Nick())
		server.sendMOTD(talker)
		server.propagate(conn, server.name, "SERVICE",
			talker.Nick(), "*", talker.Distribution(), talker.serviceType, "0", talker.Info())
	}
}

func (server *Server) sendWelcome(user *User) {
	config := server.Config()
	nick := user.Nick()

	user.Send(nil, server.name, RPL_WELCOME, nick,
		fmt.Sprintf("Welcome to the %s IRC Network %s", config.Network.Name, user.NickMaskString()))
	user.Send(nil, server.name, RPL_YOURHOST, nick,
		fmt.Sprintf("Your host is %s, running version %s", server.name, Ver))
	user.Send(nil, server.name, RPL_CREATED, nick,
		fmt.Sprintf("This server was created %s", server.ctime.Format(time.RFC1123)))
	user.Send(nil, server.name, RPL_MYINFO, nick,
		server.name, Ver, modes.SupportedUserModes.String(), modes.SupportedChannelModes.String())
	server.sendISupport(user)
	server.sendLusers(user)
	server.sendMOTD(user)
	if modeString := user.ModeString(); modeString != "+" {
		user.Send(nil, server.name, RPL_UMODEIS, nick, modeString)
	}
}

func (server *Server) sendISupport(t Talker) {
	nick := replyTarget(t)
	for _, tokenLine := range server.Config().ISupport().CachedReply {
		params := make([]string, 0, len(tokenLine)+2)
		params = append(params, nick)
		params = append(params, tokenLine...)
		params = append(params, "are supported by this server")
		t.Send(nil, server.name, RPL_ISUPPORT, params...)
	}
}

func (server *Server) sendLusers(t Talker) {
	nick := replyTarget(t)
	counts := server.registry.Counts()

	t.Send(nil, server.name, RPL_LUSERCLIENT, nick,
		fmt.Sprintf("There are %d users and %d services on %d servers", counts.Users, counts.Services, counts.Peers+1))
	t.Send(nil, server.name, RPL_LUSEROP, nick, strconv.Itoa(counts.Opers), "operator(s) online")
	t.Send(nil, server.name, RPL_LUSERUNKNOWN, nick, strconv.Itoa(counts.Unregistered), "unknown connection(s)")
	t.Send(nil, server.name, RPL_LUSERCHANNELS, nick, strconv.Itoa(counts.Channels), "channels formed")
	t.Send(nil, server.name, RPL_LUSERME, nick,
		fmt.Sprintf("I have %d clients and %d servers", counts.Users+counts.Services, counts.Peers))
}

func (server *Server) loadMOTD(config *Config) {
	server.configMutex.Lock()
	defer server.configMutex.Unlock()
	server.motdLines = nil
	if config.Server.MOTD == "" {
		return
	}
	data, err := ioutil.ReadFile(config.Server.MOTD)
	if err != nil {
		server.logger.Warning("server", "couldn't read MOTD file", err.Error())
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r\n")
		for _, wrapped := range utils.WordWrap(line, 80) {
			server.motdLines = append(server.motdLines, wrapped)
		}
	}
}

func (server *Server) sendMOTD(t Talker) {
	nick := replyTarget(t)
	server.configMutex.RLock()
	motdLines := server.motdLines
	server.configMutex.RUnlock()

	if len(motdLines) == 0 {
		t.Send(nil, server.name, ERR_NOMOTD, nick, "MOTD File is missing")
		return
	}
	t.Send(nil, server.name, RPL_MOTDSTART, nick, fmt.Sprintf("- %s Message of the day - ", server.name))
	for _, line := range motdLines {
		t.Send(nil, server.name, RPL_MOTD, nick, "- "+line)
	}
	t.Send(nil, server.name, RPL_ENDOFMOTD, nick, "End of MOTD command")
}

// propagate relays a message to every direct server link except the one it
// arrived on.
func (server *Server) propagate(exclude *Connection, prefix, command string, params ...string) {
	for _, link := range server.registry.PeerLinks() {
		if link != exclude {
			link.Send(nil, prefix, command, params...)
		}
	}
}

// propagateUserIntro announces a newly registered local user to all links.
func (server *Server) propagateUserIntro(user *User) {
	server.propagate(nil, server.name, "NICK",
		user.Nick(), "1", user.Username(), user.Hostname(), "1", "+", user.Realname())
}

// burstToLink brings a freshly established server link up to date: every
// known user and service, then channel memberships and state.
func (server *Server) burstToLink(link *Connection) {
	for _, user := range server.registry.Users() {
		if user.Connection() == link {
			continue
		}
		link.Send(nil, server.name, "NICK",
			user.Nick(), strconv.Itoa(user.HopCount()+1), user.Username(), user.Hostname(), "1", "+", user.Realname())
	}
	for _, t := range server.registry.Connections() {
		if service, isService := t.Talker().(*Service); isService && t != link {
			link.Send(nil, server.name, "SERVICE",
				service.Nick(), "*", service.Distribution(), service.serviceType, "0", service.Info())
		}
	}
	for _, channel := range server.registry.Channels() {
		for _, member := range channel.Members() {
			if member.Connection() == link {
				continue
			}
			link.Send(nil, member.NickMaskString(), "JOIN", channel.Name())
		}
		if topic := channel.Topic(); topic != "" {
			link.Send(nil, server.name, "TOPIC", channel.Name(), topic)
		}
		link.Send(nil, server.name, "MODE", channel.Name(), channel.modeString())
	}
}

// establishLink dials an outbound server link and starts the handshake.
func (server *Server) establishLink(name, address string) {
	config := server.Config()
	linkConfig, exists := config.Server.Links[name]
	if !exists {
		return
	}

	netConn, err := net.DialTimeout("tcp", address, 10*time.Second)
	if err != nil {
		server.logger.Warning("server", "couldn't connect to", name, err.Error())
		return
	}

	conn := NewConnection(server, NewIRCStreamConn(netConn))
	conn.initiatedLink = true
	conn.SetTalker(NewUser(server, conn))
	server.registry.AddConnection(conn)

	conn.Send(nil, "", "PASS", linkConfig.Password)
	conn.Send(nil, "", "SERVER", server.name, "1", "1", config.Server.Description)

	conn.run()
}

// cleanupTalker tears down a departed talker's presence: QUIT notifications
// to everyone who shared a channel, and channel membership removal. The
// registry entry must already be gone.
func (server *Server) cleanupTalker(t Talker, reason string) {
	user, isUser := t.(*User)
	if !isUser {
		server.propagate(t.Connection(), server.name, "SQUIT", t.Nick(), reason)
		return
	}

	if user.Registered() {
		talkersRegistered.Dec()
	}

	channels := user.Channels()
	seen := map[*Connection]bool{user.Connection(): true}
	for _, channel := range channels {
		for _, member := range channel.Members() {
			conn := member.Connection()
			if conn == nil || seen[conn] {
				continue
			}
			seen[conn] = true
			conn.Send(nil, user.NickMaskString(), "QUIT", reason)
		}
	}
	for _, channel := range channels {
		channel.Quit(user)
	}
	if user.Registered() {
		server.propagate(user.Connection(), user.NickMaskString(), "QUIT", reason)
	}
}

// reap collects every broken connection: exactly one goroutine (the server
// loop) runs this, and the registry guarantees each connection is reaped at
// most once.
func (server *Server) reap() {
	server.trafficMeter.CloseInterval()

	for _, conn := range server.registry.Connections() {
		if conn.State() != ConnStateBroken {
			continue
		}
		orphans, reaped := server.registry.ReapConnection(conn)
		if !reaped {
			continue
		}
		connectionsReaped.Inc()
		reason := conn.QuitReason()
		if reason == "" {
			reason = "Connection closed"
		}
		server.logger.Debug("quit", "reaping connection", reason)
		for _, orphan := range orphans {
			server.cleanupTalker(orphan, reason)
		}
	}
}

// Shutdown requests an orderly shutdown; restart asks the process wrapper to
// start over with a fresh server.
func (server *Server) Shutdown(restart bool) {
	select {
	case server.exitSignal <- restart:
	default:
	}
}

func (server *Server) shutdownNow() {
	sdnotify.Stopping()
	server.logger.Info("server", "shutting down")

	for _, listener := range server.listeners {
		listener.Close()
	}
	for _, wsServer := range server.wsServers {
		wsServer.Close()
	}

	for _, conn := range server.registry.Connections() {
		conn.Send(nil, server.name, "ERROR", "Server shutting down")
		conn.MarkBroken("Server shutting down")
	}
	server.reap()

	if server.store != nil {
		server.store.Close()
	}
	if server.dbFlock != nil {
		server.dbFlock.Unlock()
	}
}

// rehash reloads the configuration: logging, MOTD, operators and links.
// Immutable properties (server name, datastore path) must not change.
func (server *Server) rehash() error {
	sdnotify.Reloading()
	defer sdnotify.Ready()

	config, err := LoadConfig(server.configFilename)
	if err != nil {
		return err
	}
	if config.Server.Name != server.name {
		return fmt.Errorf("server name cannot change during rehash")
	}
	if config.Datastore.Path != server.Config().Datastore.Path {
		return fmt.Errorf("datastore path cannot change during rehash")
	}

	if err := server.logger.ApplyConfig(config.Logging); err != nil {
		return err
	}

	server.configMutex.Lock()
	server.config = config
	server.configMutex.Unlock()

	server.loadMOTD(config)
	server.logger.Info("server", "rehash complete")
	return nil
}
