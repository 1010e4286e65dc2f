// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendQOverflowBreaksConnection(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server)

	var err error
	for i := 0; i < server.Config().Limits.SendQLength+1; i++ {
		err = conn.Send(nil, server.name, "NOTICE", "*", fmt.Sprintf("flood %d", i))
		if err != nil {
			break
		}
	}
	assert.Equal(t, errSendQExceeded, err)
	assert.Equal(t, ConnStateBroken, conn.State())
	assert.Equal(t, "SendQ exceeded", conn.QuitReason())

	// sends after breakage are refused outright
	assert.Equal(t, errConnectionClosed, conn.Send(nil, server.name, "NOTICE", "*", "late"))
}

func TestMarkBrokenKeepsFirstReason(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server)

	conn.MarkBroken("Ping timeout")
	conn.MarkBroken("Quit: changed my mind")
	assert.Equal(t, "Ping timeout", conn.QuitReason())
	assert.Equal(t, ConnStateBroken, conn.State())
	assert.True(t, conn.socket.(*mockSocket).closed)

	select {
	case <-conn.brokenSignal:
	default:
		t.Fatal("broken signal not raised")
	}
}

func TestSetOperational(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server)
	assert.Equal(t, ConnStateNew, conn.State())
	conn.setOperational()
	assert.Equal(t, ConnStateOperational, conn.State())

	// breakage is terminal
	conn.MarkBroken("bye")
	conn.setOperational()
	assert.Equal(t, ConnStateBroken, conn.State())
}
