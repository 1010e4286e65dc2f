// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimNick(t *testing.T) {
	server := newTestServer()
	connA := newTestConnection(server)
	userA := connA.Talker().(*User)

	require.NoError(t, server.registry.ClaimNick(userA, "Alice"))
	assert.Equal(t, "Alice", userA.Nick())
	assert.Same(t, userA, server.registry.Get("alice"))

	// case-insensitive collision
	connB := newTestConnection(server)
	userB := connB.Talker().(*User)
	assert.Equal(t, errNicknameInUse, server.registry.ClaimNick(userB, "ALICE"))
	assert.Equal(t, "*", userB.Nick())

	// renaming frees the old identifier
	require.NoError(t, server.registry.ClaimNick(userA, "alya"))
	assert.Nil(t, server.registry.Get("alice"))
	require.NoError(t, server.registry.ClaimNick(userB, "Alice"))
}

func TestClaimNickRejectsInvalid(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server)
	user := conn.Talker().(*User)

	assert.Equal(t, errNicknameInvalid, server.registry.ClaimNick(user, "#channel"))
	assert.Equal(t, errNicknameInvalid, server.registry.ClaimNick(user, "bad nick"))
}

func TestRemoveIsIdentityChecked(t *testing.T) {
	server := newTestServer()
	connA := newTestConnection(server)
	userA := connA.Talker().(*User)
	require.NoError(t, server.registry.ClaimNick(userA, "alice"))
	server.registry.Remove(userA)
	assert.Nil(t, server.registry.Get("alice"))

	// removing again is harmless even after the nick is reissued
	connB := newTestConnection(server)
	userB := connB.Talker().(*User)
	require.NoError(t, server.registry.ClaimNick(userB, "alice"))
	server.registry.Remove(userA)
	assert.Same(t, userB, server.registry.Get("alice"))
}

func TestReapConnectionExactlyOnce(t *testing.T) {
	server := newTestServer()
	conn, user := newTestClient(server, "dave")

	conn.MarkBroken("Quit: bye")
	orphans, reaped := server.registry.ReapConnection(conn)
	require.True(t, reaped)
	require.Len(t, orphans, 1)
	assert.Same(t, user, orphans[0])
	assert.Nil(t, server.registry.Get("dave"))

	orphans, reaped = server.registry.ReapConnection(conn)
	assert.False(t, reaped)
	assert.Empty(t, orphans)
}

func TestReapRecordsWhowas(t *testing.T) {
	server := newTestServer()
	conn, _ := newTestClient(server, "dave")

	conn.MarkBroken("Quit: bye")
	_, reaped := server.registry.ReapConnection(conn)
	require.True(t, reaped)

	entries := server.registry.WhoWas("DAVE", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "dave", entries[0].Nick)
	assert.Equal(t, "localhost.test", entries[0].Hostname)
}

func TestCounts(t *testing.T) {
	server := newTestServer()
	newTestClient(server, "alice")
	connB, _ := newTestClient(server, "bob")
	newTestConnection(server) // never registers

	server.processLine(connB, "JOIN #chat")
	drainLines(connB)

	counts := server.registry.Counts()
	assert.Equal(t, 2, counts.Users)
	assert.Equal(t, 1, counts.Channels)
	assert.Equal(t, 1, counts.Unregistered)
	assert.Equal(t, 0, counts.Peers)
}

func TestMaybeRemoveChannel(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")

	server.processLine(connA, "JOIN #fleeting")
	drainLines(connA)
	require.NotNil(t, server.registry.GetChannel("#fleeting"))

	server.processLine(connA, "PART #fleeting")
	drainLines(connA)
	assert.Nil(t, server.registry.GetChannel("#fleeting"))
}
