// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/talkerd/talkerd/irc/logger"
	"github.com/talkerd/talkerd/irc/metering"
)

// mockSocket is an IRCConn with no underlying network connection; outbound
// lines pile up in the connection's send queue where tests can read them.
type mockSocket struct {
	closed bool
}

func (s *mockSocket) UnderlyingConn() net.Conn { return nil }

func (s *mockSocket) Write([]byte) error { return nil }

func (s *mockSocket) ReadLine() ([]byte, error) { return nil, io.EOF }

func (s *mockSocket) Close() error {
	s.closed = true
	return nil
}

func newTestServer() *Server {
	logman, err := logger.NewManager(nil)
	if err != nil {
		panic(err)
	}

	config := &Config{}
	config.Network.Name = "TestNet"
	config.Server.Name = "irc.test.example"
	config.Server.nameCasefolded = "irc.test.example"
	config.Server.Description = "test server"
	config.Limits.NickLen = 32
	config.Limits.ChannelLen = 64
	config.Limits.TopicLen = 390
	config.Limits.MaxChannelsPerUser = 10
	config.Limits.WhowasEntries = 16
	config.Limits.SendQLength = 128
	config.Timeouts.PingPeriod = 90 * time.Second
	config.Timeouts.PingTimeout = time.Minute
	config.Timeouts.RegisterTimeout = time.Minute
	config.Timeouts.ReapPeriod = 5 * time.Second
	if err := config.generateISupport(); err != nil {
		panic(err)
	}

	server := &Server{
		name:         config.Server.Name,
		ctime:        time.Now().UTC(),
		config:       config,
		logger:       logman,
		newConns:     make(chan IRCConn, 8),
		exitSignal:   make(chan bool, 1),
		commandStats: make(map[string]*commandStat),
		trafficMeter: metering.NewIntervalMeter(8),
	}
	server.registry.Initialize(server, config.Limits.WhowasEntries)
	return server
}

// newTestConnection attaches a fresh unregistered connection to the server.
func newTestConnection(server *Server) *Connection {
	conn := NewConnection(server, &mockSocket{})
	conn.SetHostname("localhost.test")
	user := NewUser(server, conn)
	user.SetHostname("localhost.test")
	conn.SetTalker(user)
	server.registry.AddConnection(conn)
	return conn
}

// newTestClient registers a client end to end and discards the welcome burst.
func newTestClient(server *Server, nick string) (*Connection, *User) {
	conn := newTestConnection(server)
	server.processLine(conn, fmt.Sprintf("NICK %s", nick))
	server.processLine(conn, fmt.Sprintf("USER %s 0 * :%s", nick, nick))
	drainLines(conn)
	user, ok := conn.Talker().(*User)
	if !ok || !user.Registered() {
		panic("test client failed to register: " + nick)
	}
	return conn, user
}

// drainLines empties the connection's outbound queue.
func drainLines(conn *Connection) (lines []string) {
	for {
		select {
		case line := <-conn.sendQ:
			lines = append(lines, strings.TrimRight(string(line), "\r\n"))
		default:
			return
		}
	}
}

// findNumeric returns the first drained line carrying the given numeric.
func findNumeric(lines []string, numeric string) (string, bool) {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == numeric {
			return line, true
		}
	}
	return "", false
}

func assertNumeric(t *testing.T, lines []string, numeric string) string {
	t.Helper()
	line, found := findNumeric(lines, numeric)
	if !found {
		t.Fatalf("expected numeric %s, got %v", numeric, lines)
	}
	return line
}

func assertNoNumeric(t *testing.T, lines []string, numeric string) {
	t.Helper()
	if line, found := findNumeric(lines, numeric); found {
		t.Fatalf("did not expect numeric %s, got %s", numeric, line)
	}
}
