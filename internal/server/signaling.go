// Package server tracks ephemeral signaling rooms used to relay
// call-negotiation payloads between peers. The router owns membership only;
// it never interprets what it relays.
package server

import "github.com/google/uuid"

// Router maps room identifiers to member connections. Rooms appear on first
// join and vanish when the last member leaves or disconnects. Confined to
// the hub's event loop.
type Router struct {
	rooms map[string]map[*Client]struct{}
}

// NewRouter creates an empty signaling router.
func NewRouter() *Router {
	return &Router{rooms: make(map[string]map[*Client]struct{})}
}

// NewRoomID mints a fresh unguessable room identifier for one call attempt.
func (r *Router) NewRoomID() string {
	return uuid.NewString()
}

// Join adds client to the room's member set, creating the room if needed.
// No membership cap is enforced; two-party calls are convention, not rule.
func (r *Router) Join(client *Client, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[roomID] = members
	}
	members[client] = struct{}{}
}

// Peers returns every member of roomID except source. An unknown or empty
// room yields nil.
func (r *Router) Peers(roomID string, source *Client) []*Client {
	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}

	peers := make([]*Client, 0, len(members))
	for member := range members {
		if member != source {
			peers = append(peers, member)
		}
	}
	return peers
}

// Evict removes client from every room it joined, dropping rooms that end
// up empty. Called on disconnect.
func (r *Router) Evict(client *Client) {
	for roomID, members := range r.rooms {
		if _, ok := members[client]; !ok {
			continue
		}
		delete(members, client)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}
