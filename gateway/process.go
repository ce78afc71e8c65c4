package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"ems-client-go/ems"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/order"
)

// ProcessSpawner launches an emsd binary as a child process and attaches
// to it over websocket. The daemon lives exactly as long as the session:
// Stop on the returned handle tears the process down.
type ProcessSpawner struct {
	// Path to the emsd binary.
	Path string
	// Args passed to the binary (e.g. -config, -listen).
	Args []string
	// Addr the spawned daemon will listen on.
	Addr string
	// DialRetry is the interval between attach attempts while the child
	// is starting up (default 100ms).
	DialRetry time.Duration
	Limiter   RateLimiter
	Log       *logger.Logger
}

type processDaemon struct {
	conn *Conn
	cmd  *exec.Cmd
}

func (d *processDaemon) Events() <-chan order.Event { return d.conn.Events() }

func (d *processDaemon) Stop() error {
	_ = d.conn.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	return d.cmd.Wait()
}

// Spawn starts the child and dials it until it answers or ctx ends.
func (s *ProcessSpawner) Spawn(ctx context.Context, client, broker, symbolKey string) (ems.Daemon, ems.Transport, error) {
	retry := s.DialRetry
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}

	cmd := exec.Command(s.Path, s.Args...)
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start emsd %s: %w", s.Path, err)
	}

	var conn *Conn
	var err error
	for {
		conn, err = Dial(ctx, s.Addr, s.Log)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, nil, fmt.Errorf("emsd never answered at %s: %w", s.Addr, ctx.Err())
		case <-time.After(retry):
		}
	}
	if s.Limiter != nil {
		conn.SetLimiter(s.Limiter)
	}
	if err := conn.Attach(client, broker, symbolKey); err != nil {
		_ = conn.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}
	d := &processDaemon{conn: conn, cmd: cmd}
	return d, conn, nil
}
