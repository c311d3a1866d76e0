// Package integration contains end-to-end tests for the Parley relay.
package integration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/parley/internal/server"
	"github.com/Tyrowin/parley/test/testhelpers"
)

// dial connects a WebSocket client to the relay and registers cleanup.
func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := testhelpers.ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForActiveCount reads events until an active-users snapshot with the
// wanted size arrives. Earlier, smaller snapshots from prior mutations may
// still be in flight and are skipped.
func waitForActiveCount(t *testing.T, conn *websocket.Conn, count int) []server.User {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := testhelpers.WaitForEvent(t, conn, server.EventActiveUsers)
		var users []server.User
		testhelpers.DecodePayload(t, env, &users)
		if len(users) == count {
			return users
		}
	}

	t.Fatalf("Timed out waiting for active-users snapshot of size %d", count)
	return nil
}

// TestSignupBroadcastsPresence verifies that every registration pushes a
// full active-user snapshot to all connections.
func TestSignupBroadcastsPresence(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")

	bob := dial(t, url)
	testhelpers.Signup(t, bob, "bob")

	users := waitForActiveCount(t, alice, 2)
	if users[0].Username != "alice" || users[1].Username != "bob" {
		t.Errorf("Unexpected snapshot order: %+v", users)
	}
	for _, user := range users {
		if user.AvatarURL == "" {
			t.Errorf("User %q has no avatar URL", user.Username)
		}
	}
}

// TestSignupDuplicateUsername verifies the NameTaken failure path and that
// the active set is unchanged by the failed attempt.
func TestSignupDuplicateUsername(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")

	impostor := dial(t, url)
	testhelpers.SendEvent(t, impostor, server.EventSignup, server.CredentialsPayload{Username: "alice"})

	env := testhelpers.WaitForEvent(t, impostor, server.EventSignupFailure)
	var failure server.FailurePayload
	testhelpers.DecodePayload(t, env, &failure)
	if failure.Error != "Username already taken." {
		t.Errorf("Unexpected failure message: %q", failure.Error)
	}

	testhelpers.SendEvent(t, impostor, server.EventGetActiveUsers, nil)
	env = testhelpers.WaitForEvent(t, impostor, server.EventActiveUsers)
	var users []server.User
	testhelpers.DecodePayload(t, env, &users)
	if len(users) != 1 {
		t.Errorf("Expected 1 active user after failed signup, got %d", len(users))
	}
}

// TestSigninRebindsConnection verifies reconnection under the same name:
// after signin from a new connection, messages for the name arrive there.
func TestSigninRebindsConnection(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	stale := dial(t, url)
	testhelpers.Signup(t, stale, "alice")

	bob := dial(t, url)
	testhelpers.Signup(t, bob, "bob")

	fresh := dial(t, url)
	testhelpers.SendEvent(t, fresh, server.EventSignin, server.CredentialsPayload{Username: "alice"})
	testhelpers.WaitForEvent(t, fresh, server.EventSigninSuccess)

	testhelpers.SendEvent(t, bob, server.EventSendMessage,
		server.MessagePayload{From: "bob", To: "alice", Message: "where did you go?"})

	env := testhelpers.WaitForEvent(t, fresh, server.EventReceiveMessage)
	var delivery server.DeliveryPayload
	testhelpers.DecodePayload(t, env, &delivery)
	if delivery.From != "bob" || delivery.Message != "where did you go?" {
		t.Errorf("Unexpected delivery: %+v", delivery)
	}
}

// TestSigninUnknownUsername verifies the IdentityNotFound failure path.
func TestSigninUnknownUsername(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	conn := dial(t, url)
	testhelpers.SendEvent(t, conn, server.EventSignin, server.CredentialsPayload{Username: "ghost"})

	env := testhelpers.WaitForEvent(t, conn, server.EventSigninFailure)
	var failure server.FailurePayload
	testhelpers.DecodePayload(t, env, &failure)
	if failure.Error != "Username not found." {
		t.Errorf("Unexpected failure message: %q", failure.Error)
	}
}

// TestMessageExchange covers the full happy path: delivery to the
// recipient, the delivered echo to the sender, symmetric history on both
// sides, and conversation deletion notifying both participants.
func TestMessageExchange(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")
	bob := dial(t, url)
	testhelpers.Signup(t, bob, "bob")

	testhelpers.SendEvent(t, alice, server.EventSendMessage,
		server.MessagePayload{From: "alice", To: "bob", Message: "hi"})

	env := testhelpers.WaitForEvent(t, bob, server.EventReceiveMessage)
	var delivery server.DeliveryPayload
	testhelpers.DecodePayload(t, env, &delivery)
	if delivery.From != "alice" || delivery.Message != "hi" || delivery.Delivered {
		t.Errorf("Unexpected recipient delivery: %+v", delivery)
	}

	env = testhelpers.WaitForEvent(t, alice, server.EventReceiveMessage)
	var echo server.DeliveryPayload
	testhelpers.DecodePayload(t, env, &echo)
	if !echo.Delivered {
		t.Error("Sender echo is missing the delivered flag")
	}

	// Both participants see the same single-entry history.
	for conn, pair := range map[*websocket.Conn]server.ConversationPayload{
		alice: {From: "alice", To: "bob"},
		bob:   {From: "bob", To: "alice"},
	} {
		testhelpers.SendEvent(t, conn, server.EventLoadMessages, pair)
		env = testhelpers.WaitForEvent(t, conn, server.EventLoadMessages)
		var entries []server.Entry
		testhelpers.DecodePayload(t, env, &entries)
		if len(entries) != 1 || entries[0].From != "alice" || entries[0].Message != "hi" {
			t.Errorf("Unexpected history for %+v: %+v", pair, entries)
		}
	}

	testhelpers.SendEvent(t, alice, server.EventDeleteConversation,
		server.ConversationPayload{From: "alice", To: "bob"})
	testhelpers.WaitForEvent(t, alice, server.EventConversationDeleted)
	testhelpers.WaitForEvent(t, bob, server.EventConversationDeleted)

	testhelpers.SendEvent(t, alice, server.EventLoadMessages,
		server.ConversationPayload{From: "alice", To: "bob"})
	env = testhelpers.WaitForEvent(t, alice, server.EventLoadMessages)
	var entries []server.Entry
	testhelpers.DecodePayload(t, env, &entries)
	if len(entries) != 0 {
		t.Errorf("History not empty after deletion: %+v", entries)
	}
}

// TestMessageToOfflineRecipient verifies that an unreachable recipient
// produces a named failure and no delivery echo.
func TestMessageToOfflineRecipient(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")

	testhelpers.SendEvent(t, alice, server.EventSendMessage,
		server.MessagePayload{From: "alice", To: "ghost", Message: "hello?"})

	env := testhelpers.WaitForEvent(t, alice, server.EventSendMessageFailure)
	var failure server.FailurePayload
	testhelpers.DecodePayload(t, env, &failure)
	if failure.Error != "Recipient is not connected." {
		t.Errorf("Unexpected failure message: %q", failure.Error)
	}
}

// TestCallSignaling drives a complete call setup: room request shared with
// the callee, both sides joining, and offer/answer/ICE relayed between
// them without reflection to the source.
func TestCallSignaling(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")
	bob := dial(t, url)
	testhelpers.Signup(t, bob, "bob")

	testhelpers.SendEvent(t, alice, server.EventRequestRoomID,
		server.RoomRequestPayload{Username: "bob"})

	var callerRoom, calleeRoom server.RoomPayload
	testhelpers.DecodePayload(t, testhelpers.WaitForEvent(t, alice, server.EventRoomID), &callerRoom)
	testhelpers.DecodePayload(t, testhelpers.WaitForEvent(t, bob, server.EventRoomID), &calleeRoom)
	if callerRoom.RoomID == "" || callerRoom.RoomID != calleeRoom.RoomID {
		t.Fatalf("Caller and callee got different rooms: %q vs %q", callerRoom.RoomID, calleeRoom.RoomID)
	}

	testhelpers.SendEvent(t, alice, server.EventJoin, server.RoomPayload{RoomID: callerRoom.RoomID})
	testhelpers.SendEvent(t, bob, server.EventJoin, server.RoomPayload{RoomID: calleeRoom.RoomID})

	// Joins are processed in arrival order per connection, but give the
	// loop a moment to see both before relaying.
	time.Sleep(50 * time.Millisecond)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 alice"}`)
	testhelpers.SendEvent(t, alice, server.EventOffer,
		server.SignalPayload{RoomID: callerRoom.RoomID, Payload: offer})

	env := testhelpers.WaitForEvent(t, bob, server.EventOffer)
	var relayed server.SignalPayload
	testhelpers.DecodePayload(t, env, &relayed)
	if string(relayed.Payload) != string(offer) {
		t.Errorf("Offer not relayed verbatim: %s", relayed.Payload)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 bob"}`)
	testhelpers.SendEvent(t, bob, server.EventAnswer,
		server.SignalPayload{RoomID: calleeRoom.RoomID, Payload: answer})
	testhelpers.WaitForEvent(t, alice, server.EventAnswer)

	candidate := json.RawMessage(`{"candidate":"candidate:0 1 UDP 2122252543"}`)
	testhelpers.SendEvent(t, alice, server.EventIceCandidate,
		server.SignalPayload{RoomID: callerRoom.RoomID, Payload: candidate})

	env = testhelpers.WaitForEvent(t, bob, server.EventIceCandidate)
	testhelpers.DecodePayload(t, env, &relayed)
	if string(relayed.Payload) != string(candidate) {
		t.Errorf("Candidate not relayed verbatim: %s", relayed.Payload)
	}
}

// TestDisconnectUpdatesPresence verifies that closing a connection removes
// its identity and broadcasts the shrunken snapshot to everyone else.
func TestDisconnectUpdatesPresence(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	alice := dial(t, url)
	testhelpers.Signup(t, alice, "alice")
	bob := dial(t, url)
	testhelpers.Signup(t, bob, "bob")

	waitForActiveCount(t, alice, 2)

	if err := testhelpers.CloseWebSocket(bob); err != nil {
		t.Fatalf("Failed to close bob's connection: %v", err)
	}

	users := waitForActiveCount(t, alice, 1)
	if users[0].Username != "alice" {
		t.Errorf("Unexpected survivor: %+v", users)
	}
}

// TestUnknownEvent verifies the protocol error path for unrecognized events.
func TestUnknownEvent(t *testing.T) {
	_, ts := startRelay(t)
	url := testhelpers.WebSocketURL(ts)

	conn := dial(t, url)
	testhelpers.SendEvent(t, conn, "self-destruct", nil)

	env := testhelpers.WaitForEvent(t, conn, server.EventError)
	var failure server.FailurePayload
	testhelpers.DecodePayload(t, env, &failure)
	if failure.Error != "Unknown event." {
		t.Errorf("Unexpected error message: %q", failure.Error)
	}
}
