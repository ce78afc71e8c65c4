package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ems-client-go/infrastructure/logger"
	"ems-client-go/order"
)

// Handler runs the daemon-side order logic for one attached client. It
// must consume cmds until the channel closes and close events before
// returning.
type Handler interface {
	Serve(ctx context.Context, client, broker, symbol string, cmds <-chan order.Command, events chan<- order.Event) error
}

// Server accepts client sessions over websocket and hands each one to
// the Handler. One ws connection == one session.
type Server struct {
	ListenAddr string
	Handler    Handler
	Log        *logger.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// Start binds the listener and begins accepting sessions. Implements
// container.Lifecycle.
func (s *Server) Start(ctx context.Context) error {
	if s.Handler == nil {
		return errors.New("gateway server: handler required")
	}
	if s.Log == nil {
		s.Log = logger.Nop()
	}
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.ListenAddr, err)
	}

	srvCtx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	mux.HandleFunc("/ems", func(w http.ResponseWriter, r *http.Request) {
		s.handleSession(srvCtx, w, r)
	})

	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.httpSrv = &http.Server{Handler: mux}
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.LogError(err, map[string]interface{}{"addr": s.ListenAddr})
		}
	}()
	s.Log.Info("emsd listening on " + ln.Addr().String())
	return nil
}

// BoundAddr reports the actual listen address (useful with ":0").
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and waits for in-flight sessions to unwind.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	srv := s.httpSrv
	s.mu.Unlock()

	cancel()
	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	err := srv.Shutdown(ctx)
	s.sessions.Wait()
	return err
}

// Health reports whether the server is accepting sessions.
func (s *Server) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("gateway server not running")
	}
	return nil
}

func (s *Server) handleSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.LogError(err, map[string]interface{}{"remote": r.RemoteAddr})
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()
	defer ws.Close()

	// 第一帧必须是 attach
	var attach Frame
	if err := ws.ReadJSON(&attach); err != nil || attach.Type != FrameAttach {
		s.Log.Warn("session rejected: bad attach frame from " + r.RemoteAddr)
		return
	}
	s.Log.Info(fmt.Sprintf("client %s attached: broker=%s symbol=%s",
		attach.Client, attach.Broker, attach.Symbol))

	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()

	// Shutdown does not touch hijacked connections; closing the socket is
	// the only way to unblock a reader stuck in ReadJSON during Stop.
	go func() {
		<-sessCtx.Done()
		_ = ws.Close()
	}()

	cmds := make(chan order.Command, order.DefaultChannelCapacity)
	events := make(chan order.Event, order.DefaultChannelCapacity)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- s.Handler.Serve(sessCtx, attach.Client, attach.Broker, attach.Symbol, cmds, events)
	}()

	// writer: events -> socket
	var writeMu sync.Mutex
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range events {
			f, err := EncodeEvent(ev)
			if err != nil {
				s.Log.LogError(err, map[string]interface{}{"oid": ev.OID})
				continue
			}
			writeMu.Lock()
			_ = ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			err = ws.WriteJSON(f)
			writeMu.Unlock()
			if err != nil {
				sessCancel()
				return
			}
		}
	}()

	// ack the attach only after the handler is wired up
	writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	ackErr := ws.WriteJSON(Frame{Type: FrameAttachOK})
	writeMu.Unlock()
	if ackErr != nil {
		sessCancel()
		close(cmds)
		<-serveDone
		<-writerDone
		return
	}

	// reader: socket -> cmds
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			break
		}
		if f.Type != FrameCommand || f.Cmd == nil {
			s.Log.Warn("unexpected frame type " + f.Type)
			continue
		}
		select {
		case cmds <- *f.Cmd:
		case <-sessCtx.Done():
		}
		if sessCtx.Err() != nil {
			break
		}
	}

	close(cmds)
	if err := <-serveDone; err != nil && !errors.Is(err, context.Canceled) {
		s.Log.LogError(err, map[string]interface{}{"client": attach.Client})
	}
	<-writerDone
}
