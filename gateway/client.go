package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ems-client-go/ems"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/order"
)

const (
	defaultWriteTimeout = 5 * time.Second
	attachTimeout       = 5 * time.Second
)

// Conn is the client end of the daemon link. It implements both the
// session transport (Ready/SendCommand/Close) and the daemon handle
// (Events/Stop): over a websocket the two halves share one socket.
type Conn struct {
	ws      *websocket.Conn
	log     *logger.Logger
	limiter RateLimiter

	ready  chan struct{}
	events chan order.Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to an EMS daemon's websocket endpoint. addr is a host:port
// or a full ws:// URL.
func Dial(ctx context.Context, addr string, log *logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.Nop()
	}
	target := addr
	if !strings.Contains(target, "://") {
		u := url.URL{Scheme: "ws", Host: addr, Path: "/ems"}
		target = u.String()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial emsd %s: %w", target, err)
	}
	c := &Conn{
		ws:     ws,
		log:    log,
		ready:  make(chan struct{}),
		events: make(chan order.Event, order.DefaultChannelCapacity),
	}
	go c.readLoop()
	return c, nil
}

// SetLimiter installs outbound command pacing. Nil disables pacing.
func (c *Conn) SetLimiter(l RateLimiter) { c.limiter = l }

// Attach announces the client to the daemon. Ready fires once the
// daemon acknowledges.
func (c *Conn) Attach(client, broker, symbol string) error {
	return c.writeFrame(Frame{
		Type:   FrameAttach,
		Client: client,
		Broker: broker,
		Symbol: symbol,
	})
}

// Ready fires when the daemon has acknowledged the attach.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// SendCommand forwards one order command. Errors here kill the relay;
// the socket is assumed dead.
func (c *Conn) SendCommand(ctx context.Context, cmd order.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter != nil {
		c.limiter.Wait()
	}
	return c.writeFrame(Frame{Type: FrameCommand, Cmd: &cmd})
}

func (c *Conn) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Events is the inbound lifecycle stream. Closed when the link dies or
// the daemon hangs up; that close is the stream-end the consumer sees.
func (c *Conn) Events() <-chan order.Event { return c.events }

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.log.Debug("emsd link read ended: " + err.Error())
			return
		}
		switch f.Type {
		case FrameAttachOK:
			select {
			case <-c.ready:
			default:
				close(c.ready)
			}
		case FrameEvent:
			ev, err := DecodeEvent(f)
			if err != nil {
				c.log.LogError(err, map[string]interface{}{"frame": f.Type})
				continue
			}
			c.events <- ev
		default:
			c.log.Warn("unexpected frame type " + f.Type)
		}
	}
}

// Close shuts the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Stop satisfies the daemon-handle side of the session contract.
func (c *Conn) Stop() error { return c.Close() }

// RemoteSpawner attaches to an already-running emsd at Addr. "Spawning"
// here is establishing the per-client session on the shared daemon.
type RemoteSpawner struct {
	Addr    string
	Limiter RateLimiter
	Log     *logger.Logger
}

// Spawn dials the daemon, attaches, and returns the connection as both
// daemon handle and transport.
func (s *RemoteSpawner) Spawn(ctx context.Context, client, broker, symbolKey string) (ems.Daemon, ems.Transport, error) {
	conn, err := Dial(ctx, s.Addr, s.Log)
	if err != nil {
		return nil, nil, err
	}
	if s.Limiter != nil {
		conn.SetLimiter(s.Limiter)
	}
	if err := conn.Attach(client, broker, symbolKey); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, conn, nil
}
