package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ems-client-go/broker"
	"ems-client-go/config"
	"ems-client-go/gateway"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/internal/daemon"
)

// Container 依赖注入容器，组装 emsd 的全部组件并管理生命周期
type Container struct {
	cfg *config.AppConfig

	logger *logger.Logger
	proxy  *broker.Proxy
	market *broker.PaperMarket
	server *gateway.Server

	metricsServer *http.Server

	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Config exposes the loaded configuration.
func (c *Container) Config() *config.AppConfig { return c.cfg }

// Logger exposes the shared logger once Build has run.
func (c *Container) Logger() *logger.Logger { return c.logger }

// Market exposes the paper quote board so a sim can move prices.
func (c *Container) Market() *broker.PaperMarket { return c.market }

// ListenAddr reports the gateway's bound address.
func (c *Container) ListenAddr() string { return c.server.BoundAddr() }

// Build 构建所有组件
func (c *Container) Build() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	// broker 适配层：按配置注册 paper 适配器
	c.proxy = broker.NewProxy(c.logger)
	c.market = broker.NewPaperMarket()
	for _, name := range c.cfg.Daemon.Brokers {
		if err := c.proxy.Register(broker.NewPaperAdapter(name, c.market)); err != nil {
			return fmt.Errorf("register broker %s: %w", name, err)
		}
	}
	for sym, px := range c.cfg.Daemon.SeedQuotes {
		c.market.SetLast(sym, px)
	}

	quotes := &daemon.ProxyQuoteSource{
		Proxy:    c.proxy,
		Broker:   c.cfg.Daemon.Brokers[0],
		Interval: c.cfg.Daemon.QuotePoll(),
	}
	c.server = &gateway.Server{
		ListenAddr: c.cfg.Daemon.ListenAddr,
		Handler: &daemon.Factory{
			Proxy:  c.proxy,
			Quotes: quotes,
			Log:    c.logger,
		},
		Log: c.logger,
	}

	c.lifecycle.Register(c.server)
	if c.cfg.Daemon.MetricsAddr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: promhttp.Handler(),
			addr:    c.cfg.Daemon.MetricsAddr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}

	c.logger.Info("container built")
	return nil
}

// Start 启动所有组件
func (c *Container) Start(ctx context.Context) error {
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("emsd started")
	return nil
}

// Stop 逆序停止所有组件
func (c *Container) Stop() error {
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

// HealthCheck 检查所有组件健康状态
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// ApplyConfig applies the hot-reloadable parts of a fresh config. Only
// the paper quote board is runtime-safe; everything else needs a restart.
func (c *Container) ApplyConfig(cfg config.AppConfig) {
	for sym, px := range cfg.Daemon.SeedQuotes {
		c.market.SetLast(sym, px)
	}
	c.logger.Info(fmt.Sprintf("config reloaded: %d seed quotes applied", len(cfg.Daemon.SeedQuotes)))
}
