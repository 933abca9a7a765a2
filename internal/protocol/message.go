// Package protocol defines the tagged input/output message schema
// exchanged over the bridge's WebSocket, request-id plumbing, and the
// error envelope.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/dbus-ws-bridge/internal/bridgeerr"
	"github.com/nugget/dbus-ws-bridge/internal/busvalue"
)

// ArgMatch constrains one positional argument of a signal subscription.
type ArgMatch struct {
	Index uint8
	Match string
}

// MarshalJSON renders an ArgMatch as the wire tuple [index, match].
func (a ArgMatch) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Index, a.Match})
}

// UnmarshalJSON parses the wire tuple [index, match].
func (a *ArgMatch) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decode arg match tuple: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &a.Index); err != nil {
		return fmt.Errorf("decode arg match index: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &a.Match); err != nil {
		return fmt.Errorf("decode arg match string: %w", err)
	}
	return nil
}

// RequestID is the client-chosen opaque correlation id. A nil pointer
// means absent; present but unused requests still echo null.
type RequestID = *uint64

// --- input messages -------------------------------------------------

// CallMethod requests a method-call RPC against a bus service.
type CallMethod struct {
	RequestID   RequestID        `json:"requestId,omitempty"`
	Destination string           `json:"destination,omitempty"`
	Path        string           `json:"path"`
	Interface   string           `json:"interface,omitempty"`
	MethodName  string           `json:"methodName"`
	Args        []busvalue.Value `json:"args"`
}

// UnmarshalJSON decodes CallMethod, routing each element of Args
// through busvalue.UnmarshalValue since Value is a closed interface
// the standard decoder cannot populate on its own.
func (m *CallMethod) UnmarshalJSON(data []byte) error {
	var wire struct {
		RequestID   RequestID         `json:"requestId"`
		Destination string            `json:"destination"`
		Path        string            `json:"path"`
		Interface   string            `json:"interface"`
		MethodName  string            `json:"methodName"`
		Args        []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	args := make([]busvalue.Value, len(wire.Args))
	for i, raw := range wire.Args {
		v, err := busvalue.UnmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = v
	}
	m.RequestID = wire.RequestID
	m.Destination = wire.Destination
	m.Path = wire.Path
	m.Interface = wire.Interface
	m.MethodName = wire.MethodName
	m.Args = args
	return nil
}

// SubscribeSignal requests a live subscription to a signal key.
type SubscribeSignal struct {
	RequestID   RequestID  `json:"requestId,omitempty"`
	Destination string     `json:"destination"`
	Path        string     `json:"path"`
	Interface   string     `json:"interface"`
	Name        string     `json:"name"`
	Args        []ArgMatch `json:"args,omitempty"`
}

// UnsubscribeSignal requests that a prior subscription be dropped.
type UnsubscribeSignal struct {
	RequestID   RequestID  `json:"requestId,omitempty"`
	Destination string     `json:"destination"`
	Path        string     `json:"path"`
	Interface   string     `json:"interface"`
	Name        string     `json:"name"`
	Args        []ArgMatch `json:"args,omitempty"`
}

// InputMessage is the closed sum of the three inbound variants,
// discriminated on the wire by their single top-level key.
type InputMessage interface {
	isInputMessage()
	RequestIDPtr() RequestID
}

func (CallMethod) isInputMessage()        {}
func (SubscribeSignal) isInputMessage()   {}
func (UnsubscribeSignal) isInputMessage() {}

func (m CallMethod) RequestIDPtr() RequestID        { return m.RequestID }
func (m SubscribeSignal) RequestIDPtr() RequestID   { return m.RequestID }
func (m UnsubscribeSignal) RequestIDPtr() RequestID { return m.RequestID }

// ParseInput decodes one text frame into an InputMessage. JSON parse
// errors are classified KindJSON and carry no requestId (it cannot
// have been read yet).
func ParseInput(data []byte) (InputMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindJSON, "decode input envelope: %w", err)
	}
	if len(envelope) != 1 {
		return nil, bridgeerr.New(bridgeerr.KindJSON, "input message must have exactly one tag, got %d", len(envelope))
	}
	for tag, raw := range envelope {
		switch tag {
		case "callMethod":
			var m CallMethod
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, bridgeerr.New(bridgeerr.KindJSON, "decode callMethod: %w", err)
			}
			return m, nil
		case "subscribeSignal":
			var m SubscribeSignal
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, bridgeerr.New(bridgeerr.KindJSON, "decode subscribeSignal: %w", err)
			}
			return m, nil
		case "unsubscribeSignal":
			var m UnsubscribeSignal
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, bridgeerr.New(bridgeerr.KindJSON, "decode unsubscribeSignal: %w", err)
			}
			return m, nil
		default:
			return nil, bridgeerr.New(bridgeerr.KindJSON, "unknown input message tag %q", tag)
		}
	}
	panic("unreachable")
}

// --- output messages --------------------------------------------------

// MethodReturn is emitted when a callMethod's reply is a MethodReturn.
type MethodReturn struct {
	RequestID RequestID        `json:"requestId"`
	Args      []busvalue.Value `json:"args"`
}

// MethodError is emitted when a callMethod's reply is an Error.
type MethodError struct {
	RequestID RequestID        `json:"requestId"`
	Args      []busvalue.Value `json:"args"`
}

// Signal is emitted for an arriving signal matched against a subscription.
type Signal struct {
	Destination string           `json:"destination,omitempty"`
	Path        string           `json:"path"`
	Interface   string           `json:"interface"`
	Name        string           `json:"name"`
	Args        []busvalue.Value `json:"args"`
}

// Success acknowledges a subscribeSignal/unsubscribeSignal.
type Success struct {
	RequestID RequestID `json:"requestId"`
}

// ErrorOutput is the wire error envelope.
type ErrorOutput struct {
	RequestID RequestID       `json:"requestId"`
	ErrorType bridgeerr.Kind  `json:"errorType"`
	Message   string          `json:"message"`
}

// OutputMessage is the closed sum of the five outbound variants.
type OutputMessage interface {
	isOutputMessage()
}

func (MethodReturn) isOutputMessage() {}
func (MethodError) isOutputMessage()  {}
func (Signal) isOutputMessage()       {}
func (Success) isOutputMessage()      {}
func (ErrorOutput) isOutputMessage()  {}

// MarshalOutput serializes an OutputMessage to its single-key tagged
// wire form.
func MarshalOutput(m OutputMessage) ([]byte, error) {
	var tag string
	switch m.(type) {
	case MethodReturn:
		tag = "methodReturn"
	case MethodError:
		tag = "methodError"
	case Signal:
		tag = "signal"
	case Success:
		tag = "success"
	case ErrorOutput:
		tag = "error"
	default:
		return nil, fmt.Errorf("unknown output message type %T", m)
	}
	inner, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", tag, err)
	}
	return json.Marshal(map[string]json.RawMessage{tag: inner})
}

// NewErrorOutput builds an ErrorOutput from a bridge error, recovering
// the wire-visible Kind via bridgeerr.KindOf. The message is the
// underlying cause, not the "kind: cause" form of Error(), so the
// wire message matches the cause text literally.
func NewErrorOutput(requestID RequestID, err error) ErrorOutput {
	var be *bridgeerr.Error
	if bridgeerr.As(err, &be) && be.Err != nil {
		return ErrorOutput{RequestID: requestID, ErrorType: be.Kind, Message: be.Err.Error()}
	}
	return ErrorOutput{
		RequestID: requestID,
		ErrorType: bridgeerr.KindOf(err),
		Message:   err.Error(),
	}
}

// Uint64Ptr is a small helper for building a RequestID from a literal,
// used by handlers and tests alike.
func Uint64Ptr(v uint64) RequestID { return &v }
