package registry

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/nugget/dbus-ws-bridge/internal/busconn"
)

const testOwner = ":1.42"

type fakeBus struct {
	sigs    chan *dbus.Signal
	added   []busconn.MatchRule
	removed []busconn.MatchRule
	// owners maps a well-known bus name to the unique connection id
	// that currently owns it, modeling GetNameOwner resolution the
	// way a real daemon would: the two are never the same string.
	owners map[string]string
}

func newFakeBus() *fakeBus {
	return &fakeBus{sigs: make(chan *dbus.Signal, 8), owners: map[string]string{"org.example": testOwner}}
}

func (f *fakeBus) Call(ctx context.Context, destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error) {
	if destination == "org.freedesktop.DBus" && method == "GetNameOwner" {
		name, _ := args[0].(string)
		owner, ok := f.owners[name]
		if !ok {
			return busconn.CallResult{IsError: true, Body: []any{"org.freedesktop.DBus.Error.NameHasNoOwner"}}, nil
		}
		return busconn.CallResult{Body: []any{owner}}, nil
	}
	return busconn.CallResult{}, nil
}
func (f *fakeBus) AddMatch(rule busconn.MatchRule) error {
	f.added = append(f.added, rule)
	return nil
}
func (f *fakeBus) RemoveMatch(rule busconn.MatchRule) error {
	f.removed = append(f.removed, rule)
	return nil
}
func (f *fakeBus) Signals() <-chan *dbus.Signal { return f.sigs }
func (f *fakeBus) Close() error                 { return nil }

func testKey() Key {
	return Key{Destination: "org.example", Path: "/x", Interface: "org.example.Iface", Member: "Changed"}
}

func TestRegistryInsertReplace(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	k := testKey()
	ctx := context.Background()

	isNew, err := r.Insert(ctx, k)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !isNew {
		t.Fatalf("expected first insert to report isNew")
	}
	isNew, err = r.Insert(ctx, k)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if isNew {
		t.Fatalf("expected replace to not report isNew")
	}
	if len(r.keys) != 1 {
		t.Fatalf("expected exactly one bound key after replace, got %d", len(r.keys))
	}
	if len(bus.removed) != 1 {
		t.Fatalf("expected the prior match rule to be removed once, got %d removals", len(bus.removed))
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	k := testKey()
	ctx := context.Background()

	if removed, err := r.Remove(k); err != nil || removed {
		t.Fatalf("remove on empty registry: removed=%v err=%v", removed, err)
	}
	if _, err := r.Insert(ctx, k); err != nil {
		t.Fatalf("insert: %v", err)
	}
	removed, err := r.Remove(k)
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, err = r.Remove(k)
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
	if len(r.keys) != 0 {
		t.Fatalf("expected no bound keys, got %d", len(r.keys))
	}
}

func TestRegistryMatch(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	k := testKey()
	if _, err := r.Insert(context.Background(), k); err != nil {
		t.Fatalf("insert: %v", err)
	}

	matching := &dbus.Signal{
		Sender: testOwner,
		Path:   "/x",
		Name:   "org.example.Iface.Changed",
		Body:   []any{"value"},
	}
	deliveries := r.Match(matching)
	if len(deliveries) != 1 {
		t.Fatalf("expected one match, got %d", len(deliveries))
	}

	fromOtherSender := &dbus.Signal{
		Sender: ":1.99",
		Path:   "/x",
		Name:   "org.example.Iface.Changed",
		Body:   []any{"value"},
	}
	if got := r.Match(fromOtherSender); len(got) != 0 {
		t.Fatalf("expected no match for a signal from an unresolved sender, got %d", len(got))
	}

	nonMatching := &dbus.Signal{
		Sender: testOwner,
		Path:   "/y",
		Name:   "org.example.Iface.Changed",
	}
	if got := r.Match(nonMatching); len(got) != 0 {
		t.Fatalf("expected no match for different path, got %d", len(got))
	}
}

func TestRegistryMatchWithArgConstraint(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	k := testKey()
	k.Args = []ArgMatch{{Index: 0, Match: "expected"}}
	if _, err := r.Insert(context.Background(), k); err != nil {
		t.Fatalf("insert: %v", err)
	}

	match := &dbus.Signal{Sender: testOwner, Path: "/x", Name: "org.example.Iface.Changed", Body: []any{"expected"}}
	if got := r.Match(match); len(got) != 1 {
		t.Fatalf("expected match on matching arg, got %d", len(got))
	}

	noMatch := &dbus.Signal{Sender: testOwner, Path: "/x", Name: "org.example.Iface.Changed", Body: []any{"other"}}
	if got := r.Match(noMatch); len(got) != 0 {
		t.Fatalf("expected no match on differing arg, got %d", len(got))
	}
}

func TestRegistryMatchUnresolvableDestinationFallsBackToDaemonFilter(t *testing.T) {
	bus := newFakeBus()
	delete(bus.owners, "org.example")
	r := New(bus)
	k := testKey()
	if _, err := r.Insert(context.Background(), k); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sig := &dbus.Signal{Sender: ":1.7", Path: "/x", Name: "org.example.Iface.Changed", Body: []any{"value"}}
	if got := r.Match(sig); len(got) != 1 {
		t.Fatalf("expected the local recheck to defer to the daemon-side filter when resolution fails, got %d", len(got))
	}
}
