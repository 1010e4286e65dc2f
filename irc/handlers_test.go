// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationGate(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server)

	server.processLine(conn, "AWAY :brb")
	lines := drainLines(conn)
	assertNumeric(t, lines, ERR_NOTREGISTERED)

	server.processLine(conn, "NICK alice")
	server.processLine(conn, "USER alice 0 * :Alice")
	lines = drainLines(conn)
	assertNumeric(t, lines, RPL_WELCOME)
	assertNumeric(t, lines, RPL_MYINFO)
	assertNumeric(t, lines, RPL_ISUPPORT)
	assertNumeric(t, lines, RPL_LUSERCLIENT)
	assertNumeric(t, lines, ERR_NOMOTD)

	user := conn.Talker().(*User)
	assert.True(t, user.Registered())
	assert.Equal(t, "alice", user.Nick())
}

func TestAwayNotification(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")
	connB, _ := newTestClient(server, "bob")

	server.processLine(connA, "AWAY :gone fishing")
	assertNumeric(t, drainLines(connA), RPL_NOWAWAY)

	server.processLine(connB, "PRIVMSG alice :hi")
	lines := drainLines(connB)
	line := assertNumeric(t, lines, RPL_AWAY)
	assert.Contains(t, line, "gone fishing")

	// the message itself is still delivered
	lines = drainLines(connA)
	if _, found := findNumeric(lines, RPL_AWAY); found {
		t.Fatalf("away notice went to the wrong side: %v", lines)
	}
	foundMsg := false
	for _, l := range lines {
		if strings.Contains(l, "PRIVMSG") && strings.Contains(l, "hi") {
			foundMsg = true
		}
	}
	assert.True(t, foundMsg, "expected PRIVMSG delivery, got %v", lines)

	server.processLine(connA, "AWAY")
	assertNumeric(t, drainLines(connA), RPL_UNAWAY)
}

// joining a restricted channel reports the key, ban, invite, and limit
// conditions in that order
func TestJoinRestrictionOrder(t *testing.T) {
	server := newTestServer()
	connOp, _ := newTestClient(server, "oper")
	connJ, _ := newTestClient(server, "joiner")

	server.processLine(connOp, "JOIN #gate")
	server.processLine(connOp, "MODE #gate +k sesame")
	server.processLine(connOp, "MODE #gate +b joiner!*@*")
	server.processLine(connOp, "MODE #gate +i")
	server.processLine(connOp, "MODE #gate +l 1")
	drainLines(connOp)

	server.processLine(connJ, "JOIN #gate")
	assertNumeric(t, drainLines(connJ), ERR_BADCHANNELKEY)

	server.processLine(connJ, "JOIN #gate sesame")
	assertNumeric(t, drainLines(connJ), ERR_BANNEDFROMCHAN)

	server.processLine(connOp, "MODE #gate -b joiner!*@*")
	drainLines(connOp)
	server.processLine(connJ, "JOIN #gate sesame")
	assertNumeric(t, drainLines(connJ), ERR_INVITEONLYCHAN)

	server.processLine(connOp, "INVITE joiner #gate")
	assertNumeric(t, drainLines(connOp), RPL_INVITING)
	drainLines(connJ)
	server.processLine(connJ, "JOIN #gate sesame")
	assertNumeric(t, drainLines(connJ), ERR_CHANNELISFULL)

	// with the limit lifted the join finally goes through, even though the
	// earlier rejected attempt consumed the invitation
	server.processLine(connOp, "MODE #gate -il")
	drainLines(connOp)
	server.processLine(connJ, "JOIN #gate sesame")
	lines := drainLines(connJ)
	assertNumeric(t, lines, RPL_NAMREPLY)
	assertNumeric(t, lines, RPL_ENDOFNAMES)
}

func TestKickMultipleTargets(t *testing.T) {
	server := newTestServer()
	connOp, _ := newTestClient(server, "oper")
	connB, _ := newTestClient(server, "bob")
	connC, _ := newTestClient(server, "carol")

	server.processLine(connOp, "JOIN #k")
	server.processLine(connB, "JOIN #k")
	server.processLine(connC, "JOIN #k")
	drainLines(connOp)
	drainLines(connB)
	drainLines(connC)

	server.processLine(connOp, "KICK #k bob,carol :misbehaving")

	kickLines := 0
	for _, l := range drainLines(connOp) {
		if strings.Contains(l, "KICK") {
			kickLines++
		}
	}
	assert.Equal(t, 2, kickLines)

	bLines := drainLines(connB)
	found := false
	for _, l := range bLines {
		if strings.Contains(l, "KICK") && strings.Contains(l, "misbehaving") {
			found = true
		}
	}
	assert.True(t, found, "expected KICK notification, got %v", bLines)

	channel := server.registry.GetChannel("#k")
	assert.NotNil(t, channel)
	assert.Equal(t, 1, len(channel.Members()))
}

func TestNickCollisionsAndValidity(t *testing.T) {
	server := newTestServer()
	newTestClient(server, "alice")

	conn := newTestConnection(server)
	server.processLine(conn, "NICK Alice")
	assertNumeric(t, drainLines(conn), ERR_NICKNAMEINUSE)

	server.processLine(conn, "NICK #bogus")
	assertNumeric(t, drainLines(conn), ERR_ERRONEUSNICKNAME)

	server.processLine(conn, "NICK")
	assertNumeric(t, drainLines(conn), ERR_NONICKNAMEGIVEN)

	server.processLine(conn, "NICK alice2")
	server.processLine(conn, "USER alice2 0 * :Alice Too")
	assertNumeric(t, drainLines(conn), RPL_WELCOME)
}

func TestSpoofedPrefixBreaksClient(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")
	newTestClient(server, "bob")

	server.processLine(connA, ":bob PRIVMSG alice :pretending")
	assert.Equal(t, ConnStateBroken, connA.State())
	assert.Equal(t, "Spoofed message prefix", connA.QuitReason())
}

func TestUnknownPrefixBreaksClient(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")

	server.processLine(connA, ":nobody PING token")
	assert.Equal(t, ConnStateBroken, connA.State())
}

func TestOwnPrefixAccepted(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")

	server.processLine(connA, ":alice PING token")
	assert.Equal(t, ConnStateOperational, connA.State())
	lines := drainLines(connA)
	found := false
	for _, l := range lines {
		if strings.Contains(l, "PONG") {
			found = true
		}
	}
	assert.True(t, found, "expected PONG, got %v", lines)
}

func TestModeratedChannel(t *testing.T) {
	server := newTestServer()
	connOp, _ := newTestClient(server, "oper")
	connB, _ := newTestClient(server, "bob")

	server.processLine(connOp, "JOIN #m")
	server.processLine(connOp, "MODE #m +m")
	server.processLine(connB, "JOIN #m")
	drainLines(connOp)
	drainLines(connB)

	server.processLine(connB, "PRIVMSG #m :anyone?")
	assertNumeric(t, drainLines(connB), ERR_CANNOTSENDTOCHAN)

	// voice lets them through
	server.processLine(connOp, "MODE #m +v bob")
	drainLines(connOp)
	drainLines(connB)
	server.processLine(connB, "PRIVMSG #m :anyone?")
	lines := drainLines(connB)
	assertNoNumeric(t, lines, ERR_CANNOTSENDTOCHAN)
	opLines := drainLines(connOp)
	found := false
	for _, l := range opLines {
		if strings.Contains(l, "PRIVMSG") && strings.Contains(l, "anyone?") {
			found = true
		}
	}
	assert.True(t, found, "expected channel delivery, got %v", opLines)
}

func TestTopic(t *testing.T) {
	server := newTestServer()
	connOp, _ := newTestClient(server, "oper")
	connB, _ := newTestClient(server, "bob")

	server.processLine(connOp, "JOIN #t")
	server.processLine(connB, "JOIN #t")
	drainLines(connOp)
	drainLines(connB)

	server.processLine(connB, "TOPIC #t")
	assertNumeric(t, drainLines(connB), RPL_NOTOPIC)

	server.processLine(connOp, "TOPIC #t :general chatter")
	bLines := drainLines(connB)
	found := false
	for _, l := range bLines {
		if strings.Contains(l, "TOPIC") && strings.Contains(l, "general chatter") {
			found = true
		}
	}
	assert.True(t, found, "expected TOPIC broadcast, got %v", bLines)

	server.processLine(connB, "TOPIC #t")
	lines := drainLines(connB)
	line := assertNumeric(t, lines, RPL_TOPIC)
	assert.Contains(t, line, "general chatter")
	assertNumeric(t, lines, RPL_TOPICTIME)
}

func TestWhowasAfterQuit(t *testing.T) {
	server := newTestServer()
	connD, _ := newTestClient(server, "dave")
	connA, _ := newTestClient(server, "alice")

	server.processLine(connD, "QUIT :done for today")
	assert.Equal(t, ConnStateBroken, connD.State())
	server.reap()

	server.processLine(connA, "WHOIS dave")
	assertNumeric(t, drainLines(connA), ERR_NOSUCHNICK)

	server.processLine(connA, "WHOWAS dave")
	lines := drainLines(connA)
	assertNumeric(t, lines, RPL_WHOWASUSER)
	assertNumeric(t, lines, RPL_ENDOFWHOWAS)
}

func TestQuitBroadcastToChannelPeers(t *testing.T) {
	server := newTestServer()
	connD, _ := newTestClient(server, "dave")
	connA, _ := newTestClient(server, "alice")

	server.processLine(connD, "JOIN #q")
	server.processLine(connA, "JOIN #q")
	drainLines(connD)
	drainLines(connA)

	server.processLine(connD, "QUIT :gone")
	server.reap()

	lines := drainLines(connA)
	found := false
	for _, l := range lines {
		if strings.Contains(l, "QUIT") && strings.Contains(l, "gone") {
			found = true
		}
	}
	assert.True(t, found, "expected QUIT broadcast, got %v", lines)

	channel := server.registry.GetChannel("#q")
	assert.NotNil(t, channel)
	assert.Equal(t, 1, len(channel.Members()))
}

func TestSecretChannelHiddenFromWhoAndNames(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")
	connB, _ := newTestClient(server, "bob")

	server.processLine(connA, "JOIN #hideout")
	server.processLine(connA, "MODE #hideout +s")
	drainLines(connA)

	// a non-member sees neither the membership nor the channel itself
	server.processLine(connB, "WHO #hideout")
	lines := drainLines(connB)
	assertNoNumeric(t, lines, RPL_WHOREPLY)
	assertNumeric(t, lines, RPL_ENDOFWHO)

	server.processLine(connB, "NAMES #hideout")
	lines = drainLines(connB)
	assertNoNumeric(t, lines, RPL_NAMREPLY)
	assertNumeric(t, lines, RPL_ENDOFNAMES)

	server.processLine(connB, "LIST")
	lines = drainLines(connB)
	assertNoNumeric(t, lines, RPL_LIST)
	assertNumeric(t, lines, RPL_LISTEND)

	// members still get the full listing
	server.processLine(connA, "WHO #hideout")
	lines = drainLines(connA)
	assertNumeric(t, lines, RPL_WHOREPLY)

	server.processLine(connA, "NAMES #hideout")
	assertNumeric(t, drainLines(connA), RPL_NAMREPLY)
}

func TestWhoChannelHidesInvisibleNonShared(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")
	connB, _ := newTestClient(server, "bob")
	connC, _ := newTestClient(server, "carol")

	server.processLine(connA, "JOIN #pub")
	server.processLine(connB, "JOIN #pub")
	server.processLine(connA, "MODE alice +i")
	drainLines(connA)
	drainLines(connB)

	server.processLine(connC, "WHO #pub")
	lines := drainLines(connC)
	for _, line := range lines {
		if strings.Contains(line, "alice") {
			t.Errorf("invisible member leaked to a stranger: %s", line)
		}
	}
	assertNumeric(t, lines, RPL_WHOREPLY)

	// a fellow member sees everyone
	server.processLine(connB, "WHO #pub")
	lines = drainLines(connB)
	found := false
	for _, line := range lines {
		if strings.Contains(line, "alice") {
			found = true
		}
	}
	if !found {
		t.Errorf("members should see invisible members of their channel, got %v", lines)
	}
}

func TestJoinKeyCheckedBeforeChannelCap(t *testing.T) {
	server := newTestServer()
	server.config.Limits.MaxChannelsPerUser = 1
	connOp, _ := newTestClient(server, "oper")
	connJ, _ := newTestClient(server, "joiner")

	server.processLine(connOp, "JOIN #gate")
	server.processLine(connOp, "MODE #gate +k sesame")
	drainLines(connOp)

	server.processLine(connJ, "JOIN #elsewhere")
	drainLines(connJ)

	// the key rejection outranks the joiner's own channel cap
	server.processLine(connJ, "JOIN #gate")
	lines := drainLines(connJ)
	assertNumeric(t, lines, ERR_BADCHANNELKEY)
	assertNoNumeric(t, lines, ERR_TOOMANYCHANNELS)

	server.processLine(connJ, "JOIN #gate sesame")
	assertNumeric(t, drainLines(connJ), ERR_TOOMANYCHANNELS)
}

func TestAmpersandChannel(t *testing.T) {
	server := newTestServer()
	connA, _ := newTestClient(server, "alice")
	connB, _ := newTestClient(server, "bob")

	server.processLine(connA, "JOIN &local")
	lines := drainLines(connA)
	assertNoNumeric(t, lines, ERR_NOSUCHCHANNEL)
	assertNumeric(t, lines, RPL_NAMREPLY)

	server.processLine(connA, "MODE &local +t")
	drainLines(connA)
	server.processLine(connA, "MODE &local")
	mode := assertNumeric(t, drainLines(connA), RPL_CHANNELMODEIS)
	if !strings.Contains(mode, "t") {
		t.Errorf("expected +t in mode reply, got %s", mode)
	}

	server.processLine(connB, "JOIN &LOCAL")
	assertNumeric(t, drainLines(connB), RPL_NAMREPLY)
	if channel := server.registry.GetChannel("&local"); channel == nil || len(channel.Members()) != 2 {
		t.Errorf("expected both users in &local")
	}
}
