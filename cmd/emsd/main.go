package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"ems-client-go/config"
	"ems-client-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/emsd.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("build failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	// systemd 就绪通知（非 systemd 环境下为 no-op）
	if _, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		c.Logger().Warn("sd_notify failed: " + err.Error())
	}
	go runWatchdog(ctx, c)

	// 配置热更新：重新播种 paper 行情
	watcher := config.Watcher{Path: *cfgPath}
	go func() {
		if err := watcher.Start(ctx, c.ApplyConfig); err != nil && ctx.Err() == nil {
			c.Logger().Warn("config watcher stopped: " + err.Error())
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		os.Exit(1)
	}
}

// runWatchdog pings systemd's watchdog while the container is healthy.
func runWatchdog(ctx context.Context, c *container.Container) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.HealthCheck() == nil {
				_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
			}
		}
	}
}
