// Package registry implements the subscription registry (§4.C):
// a single-writer, single-reader mapping from signal key to live
// subscription, multiplexed into one "next signal" source.
//
// godbus exposes one shared connection-wide signal channel rather
// than a per-subscription stream, unlike bus libraries that hand back
// an owned stream per match rule. The registry therefore still owns
// the daemon-side match rules (AddMatch/RemoveMatch do the bulk
// filtering there) but additionally re-matches every raw incoming
// signal against all locally registered keys to decide which
// subscriber, if any, it belongs to — the daemon delivers one message
// per eligible connection, not one per locally distinguished rule.
package registry

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/nugget/dbus-ws-bridge/internal/busconn"
)

const (
	busDaemonName = "org.freedesktop.DBus"
	busDaemonPath = dbus.ObjectPath("/org/freedesktop/DBus")
)

// ArgMatch constrains one positional argument of a signal.
type ArgMatch struct {
	Index uint8
	Match string
}

// Key is the registry identity: (destination, path, interface,
// member) plus an ordered sequence of argument matches.
type Key struct {
	Destination string
	Path        string
	Interface   string
	Member      string
	Args        []ArgMatch

	// resolvedSender is the unique connection id that currently owns
	// Destination, learned via GetNameOwner at subscribe time. A
	// daemon always reports a signal's Sender as the unique id of its
	// emitter, never the well-known name a client subscribed with, so
	// local re-matching has to compare against this instead of
	// Destination directly.
	resolvedSender string
}

func (k Key) equalArgs(other []ArgMatch) bool {
	if len(k.Args) != len(other) {
		return false
	}
	for i := range k.Args {
		if k.Args[i] != other[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two keys are the same registry identity.
func (k Key) Equal(other Key) bool {
	return k.Destination == other.Destination &&
		k.Path == other.Path &&
		k.Interface == other.Interface &&
		k.Member == other.Member &&
		k.equalArgs(other.Args)
}

func (k Key) matchRule() busconn.MatchRule {
	return busconn.MatchRule{
		Destination: k.Destination,
		Path:        dbus.ObjectPath(k.Path),
		Interface:   k.Interface,
		Member:      k.Member,
	}
}

// Delivery pairs a matched key with the raw signal that matched it.
type Delivery struct {
	Key    Key
	Signal *dbus.Signal
}

// Registry owns all active subscriptions for one connection.
type Registry struct {
	bus  busconn.Conn
	keys []Key
}

// New creates a registry bound to one bus connection's shared signal
// channel.
func New(bus busconn.Conn) *Registry {
	return &Registry{bus: bus}
}

// Insert installs a daemon-side match rule for key and records it.
// Inserting over an existing key replaces it (the prior binding is
// dropped first), matching §4.C's replace semantics. isNew reports
// whether this grew the subscription count (false on a replace).
func (r *Registry) Insert(ctx context.Context, key Key) (isNew bool, err error) {
	isNew = true
	if prev, ok := r.indexOf(key); ok {
		if err := r.bus.RemoveMatch(r.keys[prev].matchRule()); err != nil {
			return false, err
		}
		r.keys = append(r.keys[:prev], r.keys[prev+1:]...)
		isNew = false
	}

	if key.Destination != "" {
		owner, err := r.resolveOwner(ctx, key.Destination)
		if err == nil {
			key.resolvedSender = owner
		}
		// Resolution failure (e.g. no owner yet for the well-known
		// name) leaves resolvedSender empty; the daemon-side
		// sender filter on AddMatch still restricts delivery.
	}

	if err := r.bus.AddMatch(key.matchRule()); err != nil {
		return false, err
	}
	r.keys = append(r.keys, key)
	return isNew, nil
}

// resolveOwner asks the bus daemon for the unique connection id that
// currently owns a well-known name.
func (r *Registry) resolveOwner(ctx context.Context, destination string) (string, error) {
	result, err := r.bus.Call(ctx, busDaemonName, busDaemonPath, busDaemonName, "GetNameOwner", []any{destination})
	if err != nil {
		return "", err
	}
	if result.IsError || len(result.Body) == 0 {
		return "", fmt.Errorf("no owner for %q", destination)
	}
	owner, ok := result.Body[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected GetNameOwner reply for %q", destination)
	}
	return owner, nil
}

// Remove drops a key's match rule. Removing a missing key is a no-op,
// not an error. removed reports whether a key actually existed.
func (r *Registry) Remove(key Key) (removed bool, err error) {
	idx, ok := r.indexOf(key)
	if !ok {
		return false, nil
	}
	if err := r.bus.RemoveMatch(r.keys[idx].matchRule()); err != nil {
		return false, err
	}
	r.keys = append(r.keys[:idx], r.keys[idx+1:]...)
	return true, nil
}

// RemoveAll drops every registered key's match rule, used on
// connection teardown.
func (r *Registry) RemoveAll() {
	for _, k := range r.keys {
		_ = r.bus.RemoveMatch(k.matchRule())
	}
	r.keys = nil
}

// Count reports the number of active subscriptions.
func (r *Registry) Count() int {
	return len(r.keys)
}

func (r *Registry) indexOf(key Key) (int, bool) {
	for i, k := range r.keys {
		if k.Equal(key) {
			return i, true
		}
	}
	return 0, false
}

// Raw exposes the underlying connection-wide signal channel for the
// connection loop's select statement.
func (r *Registry) Raw() <-chan *dbus.Signal {
	return r.bus.Signals()
}

// Match re-checks one raw signal against every locally registered
// key and returns every key it matches. A signal may match more than
// one locally registered key (e.g. a broad subscription with no arg
// constraints and a narrower one on the same member).
func (r *Registry) Match(sig *dbus.Signal) []Delivery {
	var out []Delivery
	for _, k := range r.keys {
		if keyMatchesSignal(k, sig) {
			out = append(out, Delivery{Key: k, Signal: sig})
		}
	}
	return out
}

func keyMatchesSignal(k Key, sig *dbus.Signal) bool {
	if k.Path != "" && string(sig.Path) != k.Path {
		return false
	}
	ifaceMember := k.Interface + "." + k.Member
	if sig.Name != ifaceMember {
		return false
	}
	if k.resolvedSender != "" && sig.Sender != k.resolvedSender {
		return false
	}
	for _, am := range k.Args {
		if int(am.Index) >= len(sig.Body) {
			return false
		}
		s, ok := sig.Body[am.Index].(string)
		if !ok || s != am.Match {
			return false
		}
	}
	return true
}
