// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"bufio"
	"bytes"
	"net"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	maxReadQBytes = 512 + 1024
)

var (
	crlf = []byte{'\r', '\n'}
)

// IRCConn abstracts away the distinction between a regular
// net.Conn (raw TCP) and a websocket. It doesn't expose Read and
// Write because websockets are message-oriented, not stream-oriented.
type IRCConn interface {
	UnderlyingConn() net.Conn

	Write([]byte) error
	ReadLine() (line []byte, err error)

	Close() error
}

// IRCStreamConn is an IRCConn over a regular stream connection.
type IRCStreamConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func NewIRCStreamConn(conn net.Conn) *IRCStreamConn {
	return &IRCStreamConn{
		conn: conn,
	}
}

func (sc *IRCStreamConn) UnderlyingConn() net.Conn {
	return sc.conn
}

func (sc *IRCStreamConn) Write(buf []byte) (err error) {
	_, err = sc.conn.Write(buf)
	return
}

func (sc *IRCStreamConn) ReadLine() (line []byte, err error) {
	if sc.reader == nil {
		sc.reader = bufio.NewReaderSize(sc.conn, maxReadQBytes)
	}

	var isPrefix bool
	line, isPrefix, err = sc.reader.ReadLine()
	if isPrefix {
		return nil, errReadQExceeded
	}
	line = bytes.TrimSuffix(line, crlf)
	return
}

func (sc *IRCStreamConn) Close() (err error) {
	return sc.conn.Close()
}

// IRCWSConn is an IRCConn over a websocket.
type IRCWSConn struct {
	conn *websocket.Conn
}

func NewIRCWSConn(conn *websocket.Conn) IRCWSConn {
	return IRCWSConn{conn: conn}
}

func (wc IRCWSConn) UnderlyingConn() net.Conn {
	return wc.conn.UnderlyingConn()
}

func (wc IRCWSConn) Write(buf []byte) (err error) {
	buf = bytes.TrimSuffix(buf, crlf)
	// there's not much we can do about this;
	// silently drop the message
	if !utf8.Valid(buf) {
		return nil
	}
	return wc.conn.WriteMessage(websocket.TextMessage, buf)
}

func (wc IRCWSConn) ReadLine() (line []byte, err error) {
	for {
		var messageType int
		messageType, line, err = wc.conn.ReadMessage()
		// on empty message or non-text message, try again, block if necessary
		if err != nil || (messageType == websocket.TextMessage && len(line) != 0) {
			return
		}
	}
}

func (wc IRCWSConn) Close() (err error) {
	return wc.conn.Close()
}
