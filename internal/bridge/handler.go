// Package bridge implements the request handler (§4.D), signal
// handler (§4.E), and connection loop (§4.F) that together form a
// single connection's bridge runtime.
package bridge

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/nugget/dbus-ws-bridge/internal/bridgeerr"
	"github.com/nugget/dbus-ws-bridge/internal/busconn"
	"github.com/nugget/dbus-ws-bridge/internal/busvalue"
	"github.com/nugget/dbus-ws-bridge/internal/metrics"
	"github.com/nugget/dbus-ws-bridge/internal/protocol"
	"github.com/nugget/dbus-ws-bridge/internal/registry"
)

// RequestHandler interprets one fully parsed input message against a
// bus connection and registry, producing a Control.
type RequestHandler struct {
	bus     busconn.Conn
	reg     *registry.Registry
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewRequestHandler builds a handler bound to one connection's bus
// handle and registry. m may be nil (tests commonly skip metrics).
func NewRequestHandler(bus busconn.Conn, reg *registry.Registry, logger *slog.Logger, m *metrics.Registry) *RequestHandler {
	return &RequestHandler{bus: bus, reg: reg, logger: logger, metrics: m}
}

// Handle dispatches one input message.
func (h *RequestHandler) Handle(ctx context.Context, msg protocol.InputMessage) Control {
	switch m := msg.(type) {
	case protocol.CallMethod:
		return h.handleCallMethod(ctx, m)
	case protocol.SubscribeSignal:
		return h.handleSubscribe(ctx, m)
	case protocol.UnsubscribeSignal:
		return h.handleUnsubscribe(m)
	default:
		err := bridgeerr.New(bridgeerr.KindServer, "unhandled input message type %T", msg)
		return ContinueWith(protocol.NewErrorOutput(nil, err))
	}
}

func (h *RequestHandler) handleCallMethod(ctx context.Context, m protocol.CallMethod) Control {
	reqID := m.RequestID

	args, err := busvalue.StructFromWireList(m.Args)
	if err != nil {
		kind := bridgeerr.KindBusValue
		if busvalue.IsFormatError(err) {
			kind = bridgeerr.KindBusFormat
		}
		return ContinueWith(protocol.NewErrorOutput(reqID, bridgeerr.Wrap(kind, err)))
	}

	result, err := h.bus.Call(ctx, m.Destination, dbus.ObjectPath(m.Path), m.Interface, m.MethodName, args)
	if err != nil {
		return ContinueWith(protocol.NewErrorOutput(reqID, bridgeerr.Wrap(bridgeerr.KindBus, err)))
	}

	encoded, err := busvalue.EncodeListFromBusBody(result.Body)
	if err != nil {
		return ContinueWith(protocol.NewErrorOutput(reqID, bridgeerr.Wrap(bridgeerr.KindBusValue, err)))
	}

	if result.IsError {
		return ContinueWith(protocol.MethodError{RequestID: reqID, Args: encoded})
	}
	return ContinueWith(protocol.MethodReturn{RequestID: reqID, Args: encoded})
}

func (h *RequestHandler) handleSubscribe(ctx context.Context, m protocol.SubscribeSignal) Control {
	reqID := m.RequestID
	key := toRegistryKey(m.Destination, m.Path, m.Interface, m.Name, m.Args)

	isNew, err := h.reg.Insert(ctx, key)
	if err != nil {
		return ContinueWith(protocol.NewErrorOutput(reqID, bridgeerr.Wrap(bridgeerr.KindBus, err)))
	}
	if isNew && h.metrics != nil {
		h.metrics.SubscriptionsActive.Inc()
	}
	return ContinueWith(protocol.Success{RequestID: reqID})
}

func (h *RequestHandler) handleUnsubscribe(m protocol.UnsubscribeSignal) Control {
	reqID := m.RequestID
	key := toRegistryKey(m.Destination, m.Path, m.Interface, m.Name, m.Args)

	removed, err := h.reg.Remove(key)
	if err != nil {
		return ContinueWith(protocol.NewErrorOutput(reqID, bridgeerr.Wrap(bridgeerr.KindBus, err)))
	}
	if removed && h.metrics != nil {
		h.metrics.SubscriptionsActive.Dec()
	}
	return ContinueWith(protocol.Success{RequestID: reqID})
}

func toRegistryKey(destination, path, iface, member string, args []protocol.ArgMatch) registry.Key {
	key := registry.Key{
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      member,
	}
	if len(args) > 0 {
		key.Args = make([]registry.ArgMatch, len(args))
		for i, a := range args {
			key.Args[i] = registry.ArgMatch{Index: a.Index, Match: a.Match}
		}
	}
	return key
}
