package bridge

import (
	"github.com/nugget/dbus-ws-bridge/internal/bridgeerr"
	"github.com/nugget/dbus-ws-bridge/internal/busvalue"
	"github.com/nugget/dbus-ws-bridge/internal/protocol"
	"github.com/nugget/dbus-ws-bridge/internal/registry"
)

// HandleSignal converts one arriving (key, signal) delivery into an
// output message. A decode failure is reported as an error with no
// requestId and does not terminate the connection.
func HandleSignal(d registry.Delivery) Control {
	args, err := busvalue.EncodeListFromBusBody(d.Signal.Body)
	if err != nil {
		return ContinueWith(protocol.NewErrorOutput(nil, bridgeerr.Wrap(bridgeerr.KindBusValue, err)))
	}
	return ContinueWith(protocol.Signal{
		Destination: d.Key.Destination,
		Path:        d.Key.Path,
		Interface:   d.Key.Interface,
		Name:        d.Key.Member,
		Args:        args,
	})
}
