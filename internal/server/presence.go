// Package server maintains the presence directory: the set of currently
// registered identities and the live connection each one is bound to.
package server

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Identity is one registered username bound to its current connection.
// Identities live only as long as their connection: a disconnect removes the
// record, and a later signup under the same name starts fresh.
type Identity struct {
	Username  string
	AvatarURL string
	client    *Client
}

// Directory is the presence directory. It is confined to the hub's event
// loop and needs no locking of its own; registration order is preserved for
// active-user snapshots.
type Directory struct {
	order  []*Identity
	byName map[string]*Identity
}

// NewDirectory creates an empty presence directory.
func NewDirectory() *Directory {
	return &Directory{byName: make(map[string]*Identity)}
}

// Register creates a new identity bound to client. It fails with
// ErrNameTaken when any currently active identity holds the exact username.
func (d *Directory) Register(client *Client, username string) (*Identity, error) {
	if _, taken := d.byName[username]; taken {
		return nil, errors.Wrapf(ErrNameTaken, "register %q", username)
	}

	identity := &Identity{
		Username:  username,
		AvatarURL: avatarURL(username),
		client:    client,
	}
	d.order = append(d.order, identity)
	d.byName[username] = identity
	return identity, nil
}

// Reauthenticate rebinds an existing identity to a new connection,
// supporting reconnection under the same name. It fails with
// ErrIdentityNotFound when no active identity matches.
func (d *Directory) Reauthenticate(client *Client, username string) (*Identity, error) {
	identity, ok := d.byName[username]
	if !ok {
		return nil, errors.Wrapf(ErrIdentityNotFound, "reauthenticate %q", username)
	}

	identity.client = client
	return identity, nil
}

// ListActive returns a snapshot of all active identities in registration order.
func (d *Directory) ListActive() []User {
	return lo.Map(d.order, func(identity *Identity, _ int) User {
		return User{Username: identity.Username, AvatarURL: identity.AvatarURL}
	})
}

// Resolve returns the live connection currently bound to username.
func (d *Directory) Resolve(username string) (*Client, bool) {
	identity, ok := d.byName[username]
	if !ok || identity.client == nil {
		return nil, false
	}
	return identity.client, true
}

// RemoveByClient drops every identity bound to client and reports whether
// any removal happened. Called on disconnect; a connection may have claimed
// more than one username, and all of them die with it.
func (d *Directory) RemoveByClient(client *Client) bool {
	removed := false
	d.order = lo.Reject(d.order, func(identity *Identity, _ int) bool {
		if identity.client != client {
			return false
		}
		delete(d.byName, identity.Username)
		removed = true
		return true
	})
	return removed
}

// avatarURL derives a stable avatar for a username; equal names always map
// to the same image.
func avatarURL(username string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/thumbs/png?seed=%s", url.QueryEscape(username))
}
