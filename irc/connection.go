// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2017-2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/talkerd/talkerd/irc/utils"
)

// ConnState is the lifecycle state of a Connection.
type ConnState uint32

const (
	// ConnStateNew is a freshly accepted connection whose talker has not
	// finished registration.
	ConnStateNew ConnState = iota
	// ConnStateOperational is a connection with a registered talker.
	ConnStateOperational
	// ConnStateBroken is a dead connection awaiting the reaper. Nothing is
	// read from or written to a broken connection.
	ConnStateBroken
)

const (
	// MaxLineLen is the maximum length of an IRC line, including CRLF.
	MaxLineLen = 512

	inboundQueueLen = 32

	keepaliveTickPeriod = 15 * time.Second
)

// Connection is one accepted socket, together with its inbound and outbound
// queues. A client connection carries exactly one local talker; a server link
// additionally acts as the origin link for every talker introduced over it.
type Connection struct {
	server *Server
	socket IRCConn

	state uint32 // ConnState, accessed atomically

	// set before run() for outbound server links
	initiatedLink bool

	inbound chan string
	sendQ   chan []byte

	brokenSignal chan struct{}
	brokenOnce   sync.Once

	stateMutex  sync.RWMutex // tier 1
	talker      Talker
	quitReason  string
	realIP      net.IP
	rawHostname string
	ident       string
	password    string
	ctime       time.Time

	// keepalive bookkeeping, owned by the scheduler goroutine
	lastTouch time.Time
	pingSent  bool
}

func NewConnection(server *Server, socket IRCConn) *Connection {
	now := time.Now().UTC()
	conn := &Connection{
		server:       server,
		socket:       socket,
		inbound:      make(chan string, inboundQueueLen),
		sendQ:        make(chan []byte, server.Config().Limits.SendQLength),
		brokenSignal: make(chan struct{}),
		ctime:        now,
		lastTouch:    now,
	}
	if underlying := socket.UnderlyingConn(); underlying != nil {
		if addr := underlying.RemoteAddr(); addr != nil {
			conn.realIP = utils.AddrToIP(addr)
		}
	}
	return conn
}

func (conn *Connection) State() ConnState {
	return ConnState(atomic.LoadUint32(&conn.state))
}

func (conn *Connection) setOperational() {
	atomic.CompareAndSwapUint32(&conn.state, uint32(ConnStateNew), uint32(ConnStateOperational))
}

// MarkBroken transitions the connection to BROKEN, recording the first quit
// reason supplied. It closes the socket to unblock the reader; all remaining
// cleanup belongs to the reaper. Safe to call from any goroutine, any number
// of times.
func (conn *Connection) MarkBroken(reason string) {
	conn.stateMutex.Lock()
	if conn.quitReason == "" {
		conn.quitReason = reason
	}
	conn.stateMutex.Unlock()

	atomic.StoreUint32(&conn.state, uint32(ConnStateBroken))
	conn.brokenOnce.Do(func() {
		close(conn.brokenSignal)
		conn.socket.Close()
	})
}

func (conn *Connection) QuitReason() string {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.quitReason
}

func (conn *Connection) Talker() Talker {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.talker
}

func (conn *Connection) SetTalker(t Talker) {
	conn.stateMutex.Lock()
	conn.talker = t
	conn.stateMutex.Unlock()
}

func (conn *Connection) RealIP() net.IP {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.realIP
}

func (conn *Connection) Hostname() string {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.rawHostname
}

func (conn *Connection) SetHostname(hostname string) {
	conn.stateMutex.Lock()
	conn.rawHostname = hostname
	conn.stateMutex.Unlock()
}

func (conn *Connection) Ident() string {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.ident
}

func (conn *Connection) SetIdent(ident string) {
	conn.stateMutex.Lock()
	conn.ident = ident
	conn.stateMutex.Unlock()
}

func (conn *Connection) Password() string {
	conn.stateMutex.RLock()
	defer conn.stateMutex.RUnlock()
	return conn.password
}

func (conn *Connection) SetPassword(password string) {
	conn.stateMutex.Lock()
	conn.password = password
	conn.stateMutex.Unlock()
}

// Send serializes a message and enqueues it on the outbound queue. A full
// queue breaks the connection rather than blocking the caller.
func (conn *Connection) Send(tags map[string]string, prefix string, command string, params ...string) error {
	msg := ircmsg.MakeMessage(tags, prefix, command, params...)
	return conn.SendMessage(msg)
}

func (conn *Connection) SendMessage(msg ircmsg.Message) error {
	if conn.State() == ConnStateBroken {
		return errConnectionClosed
	}

	line, err := msg.LineBytesStrict(false, MaxLineLen)
	if err != nil {
		conn.server.logger.Error("internal", "couldn't serialize message", msg.Command, err.Error())
		return err
	}
	if conn.server.logger.IsLoggingRawIO() {
		conn.server.logger.Debug("useroutput", conn.Hostname(), " ->", string(line))
	}

	select {
	case conn.sendQ <- line:
		return nil
	default:
		conn.MarkBroken("SendQ exceeded")
		return errSendQExceeded
	}
}

// run services the connection until it breaks: a reader goroutine feeding the
// inbound queue, a writer goroutine draining the outbound queue, and the
// scheduler loop dispatching commands in the current goroutine.
func (conn *Connection) run() {
	go conn.writeLoop()
	go conn.readLoop()
	conn.schedulerLoop()
}

func (conn *Connection) readLoop() {
	for {
		line, err := conn.socket.ReadLine()
		if err != nil {
			conn.MarkBroken("connection closed")
			return
		}
		select {
		case conn.inbound <- string(line):
		case <-conn.brokenSignal:
			return
		}
	}
}

func (conn *Connection) writeLoop() {
	for {
		select {
		case line := <-conn.sendQ:
			if err := conn.socket.Write(line); err != nil {
				conn.MarkBroken("write error")
				return
			}
		case <-conn.brokenSignal:
			return
		}
	}
}

func (conn *Connection) schedulerLoop() {
	ticker := time.NewTicker(keepaliveTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case line := <-conn.inbound:
			conn.lastTouch = time.Now().UTC()
			conn.pingSent = false
			conn.server.processLine(conn, line)
		case <-ticker.C:
			conn.checkKeepalive(time.Now().UTC())
		case <-conn.brokenSignal:
			return
		}

		if conn.State() == ConnStateBroken {
			return
		}
	}
}

// checkKeepalive enforces the registration deadline and the PING/PONG
// liveness probe for idle connections.
func (conn *Connection) checkKeepalive(now time.Time) {
	idle := now.Sub(conn.lastTouch)
	timeouts := conn.server.Config().Timeouts

	switch {
	case conn.pingSent:
		if idle >= timeouts.PingPeriod+timeouts.PingTimeout {
			conn.MarkBroken("Ping timeout")
		}
	case conn.State() == ConnStateNew:
		if idle >= timeouts.RegisterTimeout {
			conn.MarkBroken("Registration timeout")
		}
	case idle >= timeouts.PingPeriod:
		conn.Send(nil, conn.server.name, "PING", conn.server.name)
		conn.pingSent = true
	}
}
