// Package server routes inbound events to the presence directory,
// conversation store, and signaling router, and emits the resulting
// outbound events. Runs entirely on the hub's event loop.
package server

import (
	"encoding/json"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// decodePayload unmarshals an event payload and checks its validate tags.
func decodePayload[T any](data json.RawMessage) (T, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, errors.Wrap(err, "decode payload")
	}
	if err := validate.Struct(&payload); err != nil {
		return payload, errors.Wrap(err, "validate payload")
	}
	return payload, nil
}

// failureText extracts the user-facing message from a wrapped error kind.
func failureText(err error) string {
	return errors.Cause(err).Error()
}

// dispatch routes one inbound frame to its handler. Every frame hits
// exactly one handler; unknown events and malformed payloads produce an
// error event back to the offending connection and nothing else.
func (h *Hub) dispatch(client *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Malformed frame from %s: %v", client.addr, err)
		h.emit(client, EventError, FailurePayload{Error: "Malformed frame."})
		return
	}

	switch env.Event {
	case EventSignup:
		h.handleSignup(client, env.Data)
	case EventSignin:
		h.handleSignin(client, env.Data)
	case EventGetActiveUsers:
		h.emit(client, EventActiveUsers, h.presence.ListActive())
	case EventSendMessage:
		h.handleSendMessage(client, env.Data)
	case EventLoadMessages:
		h.handleLoadMessages(client, env.Data)
	case EventDeleteConversation:
		h.handleDeleteConversation(client, env.Data)
	case EventRequestRoomID:
		h.handleRequestRoom(client, env.Data)
	case EventJoin:
		h.handleJoin(client, env.Data)
	case EventOffer, EventAnswer, EventIceCandidate:
		h.handleSignal(client, env.Event, env.Data)
	default:
		log.Printf("Unknown event %q from %s", env.Event, client.addr)
		h.emit(client, EventError, FailurePayload{Error: "Unknown event."})
	}
}

// rejectPayload reports a payload decode/validation failure to the client.
func (h *Hub) rejectPayload(client *Client, event string, err error) {
	log.Printf("Invalid %s payload from %s: %v", event, client.addr, err)
	h.emit(client, EventError, FailurePayload{Error: "Invalid payload."})
}

func (h *Hub) handleSignup(client *Client, data json.RawMessage) {
	payload, err := decodePayload[CredentialsPayload](data)
	if err != nil {
		h.rejectPayload(client, EventSignup, err)
		return
	}

	identity, err := h.presence.Register(client, payload.Username)
	if err != nil {
		h.emit(client, EventSignupFailure, FailurePayload{Error: failureText(err)})
		return
	}

	log.Printf("User %q signed up from %s", identity.Username, client.addr)
	h.emit(client, EventSignupSuccess, User{Username: identity.Username, AvatarURL: identity.AvatarURL})
	h.broadcastActiveUsers()
}

func (h *Hub) handleSignin(client *Client, data json.RawMessage) {
	payload, err := decodePayload[CredentialsPayload](data)
	if err != nil {
		h.rejectPayload(client, EventSignin, err)
		return
	}

	identity, err := h.presence.Reauthenticate(client, payload.Username)
	if err != nil {
		h.emit(client, EventSigninFailure, FailurePayload{Error: failureText(err)})
		return
	}

	log.Printf("User %q signed in from %s", identity.Username, client.addr)
	h.emit(client, EventSigninSuccess, User{Username: identity.Username, AvatarURL: identity.AvatarURL})
	h.broadcastActiveUsers()
}

// handleSendMessage delivers and stores one message. An unreachable
// recipient fails the whole operation: nothing is stored and the sender
// gets a named failure instead of a false delivery echo. The same holds
// when the recipient's send buffer is full and the queue attempt drops
// them, so an echo always means stored and queued for delivery.
func (h *Hub) handleSendMessage(client *Client, data json.RawMessage) {
	payload, err := decodePayload[MessagePayload](data)
	if err != nil {
		h.rejectPayload(client, EventSendMessage, err)
		return
	}

	recipient, ok := h.presence.Resolve(payload.To)
	if !ok {
		h.emit(client, EventSendMessageFailure, FailurePayload{Error: failureText(ErrRecipientUnreachable)})
		return
	}

	delivery := DeliveryPayload{From: payload.From, To: payload.To, Message: payload.Message}
	if !h.emit(recipient, EventReceiveMessage, delivery) {
		h.emit(client, EventSendMessageFailure, FailurePayload{Error: failureText(ErrRecipientUnreachable)})
		return
	}

	h.conversations.Append(payload.From, payload.To, payload.Message)

	delivery.Delivered = true
	h.emit(client, EventReceiveMessage, delivery)
}

func (h *Hub) handleLoadMessages(client *Client, data json.RawMessage) {
	payload, err := decodePayload[ConversationPayload](data)
	if err != nil {
		h.rejectPayload(client, EventLoadMessages, err)
		return
	}

	h.emit(client, EventLoadMessages, h.conversations.History(payload.From, payload.To))
}

// handleDeleteConversation clears both directions of the pair's history and
// notifies both participants; the other side is skipped when offline.
func (h *Hub) handleDeleteConversation(client *Client, data json.RawMessage) {
	payload, err := decodePayload[ConversationPayload](data)
	if err != nil {
		h.rejectPayload(client, EventDeleteConversation, err)
		return
	}

	h.conversations.Clear(payload.From, payload.To)

	h.emit(client, EventConversationDeleted, payload)
	if other, ok := h.presence.Resolve(payload.To); ok && other != client {
		h.emit(other, EventConversationDeleted, payload)
	}
}

// handleRequestRoom mints a room identifier for a call attempt and shares
// it with both sides. An unresolvable callee still gets the requester its
// identifier; the attempt simply stalls until the caller gives up.
func (h *Hub) handleRequestRoom(client *Client, data json.RawMessage) {
	payload, err := decodePayload[RoomRequestPayload](data)
	if err != nil {
		h.rejectPayload(client, EventRequestRoomID, err)
		return
	}

	roomID := h.rooms.NewRoomID()
	h.emit(client, EventRoomID, RoomPayload{RoomID: roomID})

	if callee, ok := h.presence.Resolve(payload.Username); ok {
		h.emit(callee, EventRoomID, RoomPayload{RoomID: roomID})
	}
}

func (h *Hub) handleJoin(client *Client, data json.RawMessage) {
	payload, err := decodePayload[RoomPayload](data)
	if err != nil {
		h.rejectPayload(client, EventJoin, err)
		return
	}

	h.rooms.Join(client, payload.RoomID)
}

// handleSignal relays a negotiation payload verbatim to every other room
// member. Relaying into an empty or unknown room is a silent no-op.
func (h *Hub) handleSignal(client *Client, event string, data json.RawMessage) {
	payload, err := decodePayload[SignalPayload](data)
	if err != nil {
		h.rejectPayload(client, event, err)
		return
	}

	for _, peer := range h.rooms.Peers(payload.RoomID, client) {
		h.emit(peer, event, payload)
	}
}
