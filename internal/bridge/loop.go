package bridge

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/nugget/dbus-ws-bridge/internal/bridgeerr"
	"github.com/nugget/dbus-ws-bridge/internal/busconn"
	"github.com/nugget/dbus-ws-bridge/internal/metrics"
	"github.com/nugget/dbus-ws-bridge/internal/protocol"
	"github.com/nugget/dbus-ws-bridge/internal/registry"
)

// frame is one relayed WebSocket read, or its terminal error.
type frame struct {
	messageType int
	data        []byte
	err         error
}

// Connection owns one bridge connection's bus handle, registry, and
// writer. Per §4.F / §5, it is the sole reader of the socket-frame
// channel and registry signal channel, and the sole writer to the
// socket and mutator of the registry — there is exactly one owning
// goroutine.
type Connection struct {
	socket  *websocket.Conn
	bus     busconn.Conn
	reg     *registry.Registry
	handler *RequestHandler
	logger  *slog.Logger
	connID  string
	metrics *metrics.Registry
}

// NewConnection wires a bus connection and freshly created registry
// to an upgraded socket. metrics may be nil in tests.
func NewConnection(socket *websocket.Conn, bus busconn.Conn, logger *slog.Logger, connID string, m *metrics.Registry) *Connection {
	reg := registry.New(bus)
	return &Connection{
		socket:  socket,
		bus:     bus,
		reg:     reg,
		handler: NewRequestHandler(bus, reg, logger, m),
		logger:  logger,
		connID:  connID,
		metrics: m,
	}
}

// Run executes the connecting→running→closing→closed state machine
// until the connection ends, then tears down the bus handle.
func (c *Connection) Run(ctx context.Context) {
	defer c.shutdown()

	frames := make(chan frame)
	go c.readLoop(frames)

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-frames:
			if f.err != nil {
				c.handleSocketError(f.err)
				return
			}
			if c.dispatchFrame(ctx, f) {
				return
			}

		case sig := <-c.reg.Raw():
			if sig == nil {
				continue
			}
			for _, d := range c.reg.Match(sig) {
				ctrl := HandleSignal(d)
				c.write(ctrl.Output)
				if ctrl.Break {
					return
				}
			}
		}
	}
}

// readLoop is the only goroutine that calls ReadMessage; it touches
// nothing but the socket and this channel, preserving the
// single-owner invariant on the writer and registry.
func (c *Connection) readLoop(out chan<- frame) {
	for {
		mt, data, err := c.socket.ReadMessage()
		out <- frame{messageType: mt, data: data, err: err}
		if err != nil {
			return
		}
	}
}

// dispatchFrame handles one inbound frame and reports whether the
// loop should stop.
func (c *Connection) dispatchFrame(ctx context.Context, f frame) (stop bool) {
	switch f.messageType {
	case websocket.TextMessage:
		return c.dispatchText(ctx, f.data)
	case websocket.BinaryMessage:
		err := bridgeerr.New(bridgeerr.KindUnsupportedFormat, "Binary messages are unsupported")
		c.write(protocol.NewErrorOutput(nil, err))
		return false
	case websocket.CloseMessage:
		return true
	default:
		// Ping/pong are acknowledged by gorilla/websocket's default
		// handlers before a frame ever reaches this dispatch point.
		return false
	}
}

func (c *Connection) dispatchText(ctx context.Context, data []byte) (stop bool) {
	msg, err := protocol.ParseInput(data)
	if err != nil {
		c.write(protocol.NewErrorOutput(nil, err))
		return false
	}
	ctrl := c.handler.Handle(ctx, msg)
	c.write(ctrl.Output)
	return ctrl.Break
}

// handleSocketError reacts to a terminal ReadMessage error. A close
// frame transitions to closing with no error-frame write; gorilla
// surfaces an expected close (normal, going away, no status) as an
// error here rather than as a websocket.CloseMessage reaching
// dispatchFrame, so only an unexpected socket error gets the
// best-effort final error write.
func (c *Connection) handleSocketError(err error) {
	if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		return
	}
	c.logger.Warn("websocket read error", "connection", c.connID, "error", err)
	serverErr := bridgeerr.Wrap(bridgeerr.KindServer, err)
	c.write(protocol.NewErrorOutput(nil, serverErr))
}

func (c *Connection) write(out protocol.OutputMessage) {
	if out == nil {
		return
	}
	data, err := protocol.MarshalOutput(out)
	if err != nil {
		c.logger.Error("marshal output message", "connection", c.connID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(outputKind(out)).Inc()
	}
	if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("websocket write error", "connection", c.connID, "error", err)
	}
}

func outputKind(out protocol.OutputMessage) string {
	switch out.(type) {
	case protocol.MethodReturn:
		return "methodReturn"
	case protocol.MethodError:
		return "methodError"
	case protocol.Signal:
		return "signal"
	case protocol.Success:
		return "success"
	case protocol.ErrorOutput:
		return "error"
	default:
		return "unknown"
	}
}

func (c *Connection) shutdown() {
	if c.metrics != nil {
		if n := c.reg.Count(); n > 0 {
			c.metrics.SubscriptionsActive.Sub(float64(n))
		}
	}
	c.reg.RemoveAll()
	if err := c.bus.Close(); err != nil {
		c.logger.Warn("bus shutdown error", "connection", c.connID, "error", err)
	}
	_ = c.socket.Close()
}
