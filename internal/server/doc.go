// Package server implements the Parley presence, messaging, and
// call-signaling relay.
//
// Clients connect over WebSocket, claim a username, exchange text messages
// routed by username, and negotiate peer-to-peer audio calls by relaying
// opaque session-negotiation payloads through shared room identifiers. All
// state lives in memory on a single event loop owned by the Hub; the
// implementation is organized into specialized files for configuration,
// presence, conversations, signaling, clients, and HTTP plumbing.
package server
