// Package server defines the JSON wire protocol shared by client and hub
// logic, plus small helpers reused across both.
package server

import (
	"encoding/json"
	"strings"
)

// Inbound event names accepted by the dispatcher.
const (
	EventSignup             = "signup"
	EventSignin             = "signin"
	EventGetActiveUsers     = "get-active-users"
	EventSendMessage        = "send-message"
	EventLoadMessages       = "load-messages"
	EventDeleteConversation = "delete-conversation"
	EventRequestRoomID      = "request-room-id"
	EventJoin               = "join"
	EventOffer              = "offer"
	EventAnswer             = "answer"
	EventIceCandidate       = "ice-candidate"
)

// Outbound event names emitted by the dispatcher.
const (
	EventSignupSuccess       = "signup-success"
	EventSignupFailure       = "signup-failure"
	EventSigninSuccess       = "signin-success"
	EventSigninFailure       = "signin-failure"
	EventActiveUsers         = "active-users"
	EventReceiveMessage      = "receive-message"
	EventSendMessageFailure  = "send-message-failure"
	EventConversationDeleted = "conversation-deleted"
	EventRoomID              = "room-id"
	EventError               = "error"
)

// Envelope is the framing shared by every inbound and outbound message:
// an event name plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// User is the public view of a registered identity, broadcast in
// active-users snapshots and returned on signup/signin success.
type User struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// CredentialsPayload carries the username for signup and signin.
type CredentialsPayload struct {
	Username string `json:"username" validate:"required,max=64"`
}

// MessagePayload carries one chat message routed by username.
type MessagePayload struct {
	From    string `json:"from" validate:"required,max=64"`
	To      string `json:"to" validate:"required,max=64"`
	Message string `json:"message" validate:"required"`
}

// ConversationPayload identifies one pairwise history for load and delete
// requests.
type ConversationPayload struct {
	From string `json:"from" validate:"required,max=64"`
	To   string `json:"to" validate:"required,max=64"`
}

// DeliveryPayload is the receive-message body. Delivered is set on the copy
// echoed back to the sender so the client can distinguish a confirmed
// delivery from an inbound message.
type DeliveryPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Delivered bool   `json:"delivered,omitempty"`
}

// RoomRequestPayload names the callee for a new call attempt.
type RoomRequestPayload struct {
	Username string `json:"username" validate:"required,max=64"`
}

// RoomPayload carries a bare room identifier, used for join requests and
// room-id notifications.
type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// SignalPayload carries one opaque negotiation payload (offer, answer, or
// ICE candidate) addressed to a room. The server never inspects Payload.
type SignalPayload struct {
	RoomID  string          `json:"roomId" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// FailurePayload is the body of every failure and protocol-error event.
type FailurePayload struct {
	Error string `json:"error"`
}

// encodeEvent wraps data in an Envelope and marshals it to a wire frame.
func encodeEvent(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
