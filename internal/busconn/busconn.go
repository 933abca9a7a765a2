// Package busconn wraps github.com/godbus/dbus/v5 behind the small
// contract the bridge actually needs: connect, call, subscribe,
// shutdown. Keeping this as an interface lets the connection loop and
// request handler be tested without a real bus.
package busconn

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Target selects which bus a connection attaches to.
type Target string

const (
	TargetSession Target = "session"
	TargetSystem  Target = "system"
)

// ParseTarget maps the upgrade surface's "connection" query parameter
// to a Target, defaulting to the session bus.
func ParseTarget(raw string) (Target, error) {
	switch raw {
	case "", "session":
		return TargetSession, nil
	case "system":
		return TargetSystem, nil
	default:
		return "", fmt.Errorf("unrecognized connection target %q", raw)
	}
}

// MatchRule is the subset of AddMatchSignal options the registry
// needs to both install the daemon-side filter and re-check an
// incoming signal locally.
type MatchRule struct {
	Destination string
	Path        dbus.ObjectPath
	Interface   string
	Member      string
}

// CallResult is the classified reply to a method call: either a
// MethodReturn body or an Error body, per §4.D's reply classification.
type CallResult struct {
	IsError bool
	Body    []any
}

// Conn is the contract the rest of the bridge depends on.
type Conn interface {
	// Call performs a method-call RPC and returns its classified reply.
	Call(ctx context.Context, destination string, path dbus.ObjectPath, iface, method string, args []any) (CallResult, error)
	// AddMatch installs a daemon-side signal filter.
	AddMatch(rule MatchRule) error
	// RemoveMatch removes a previously installed filter.
	RemoveMatch(rule MatchRule) error
	// Signals returns the connection-wide raw signal channel.
	Signals() <-chan *dbus.Signal
	// Close shuts the connection down gracefully.
	Close() error
}

type conn struct {
	bus  *dbus.Conn
	sigs chan *dbus.Signal
}

// Connect opens a new connection to the given bus target.
func Connect(target Target) (Conn, error) {
	var bus *dbus.Conn
	var err error
	switch target {
	case TargetSystem:
		bus, err = dbus.ConnectSystemBus()
	default:
		bus, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", target, err)
	}

	sigs := make(chan *dbus.Signal, 64)
	bus.Signal(sigs)

	return &conn{bus: bus, sigs: sigs}, nil
}

func (c *conn) Call(ctx context.Context, destination string, path dbus.ObjectPath, iface, method string, args []any) (CallResult, error) {
	obj := c.bus.Object(destination, path)
	member := method
	if iface != "" {
		member = iface + "." + method
	}
	call := obj.CallWithContext(ctx, member, 0, args...)
	if call.Err == nil {
		return CallResult{IsError: false, Body: call.Body}, nil
	}
	dbusErr, ok := call.Err.(dbus.Error)
	if !ok {
		return CallResult{}, call.Err
	}
	body := append([]any{dbusErr.Name}, dbusErr.Body...)
	return CallResult{IsError: true, Body: body}, nil
}

func (c *conn) AddMatch(rule MatchRule) error {
	return c.bus.AddMatchSignal(matchOptions(rule)...)
}

func (c *conn) RemoveMatch(rule MatchRule) error {
	return c.bus.RemoveMatchSignal(matchOptions(rule)...)
}

func matchOptions(rule MatchRule) []dbus.MatchOption {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(rule.Interface),
		dbus.WithMatchMember(rule.Member),
		dbus.WithMatchObjectPath(rule.Path),
	}
	if rule.Destination != "" {
		opts = append(opts, dbus.WithMatchSender(rule.Destination))
	}
	return opts
}

func (c *conn) Signals() <-chan *dbus.Signal { return c.sigs }

func (c *conn) Close() error {
	return c.bus.Close()
}
