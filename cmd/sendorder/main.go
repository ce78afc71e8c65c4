package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"ems-client-go/config"
	"ems-client-go/ems"
	"ems-client-go/gateway"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/metrics"
	"ems-client-go/order"
)

func main() {
	addr := flag.String("daemon", "127.0.0.1:7788", "emsd 地址")
	client := flag.String("client", "sendorder", "客户端标识")
	brokerName := flag.String("broker", "paper", "broker 名称")
	symbol := flag.String("symbol", "AAPL", "标的")
	oid := flag.String("oid", "", "订单 id（默认按时间生成）")
	action := flag.String("action", "buy", "buy/sell/alert")
	price := flag.Float64("price", 0, "价格")
	size := flag.Float64("size", 0, "数量")
	mode := flag.String("mode", "dark", "dark/live")
	cancelAfter := flag.Duration("cancelAfter", 0, "提交后延迟撤单（0 不撤）")
	wait := flag.Duration("wait", 30*time.Second, "等待终态事件的时间")
	rate := flag.Float64("rate", 0, "每秒指令上限（0 不限流）")
	burst := flag.Int("burst", 5, "限流突发额度")
	cfgPath := flag.String("config", "", "可选配置文件，提供客户端会话参数")
	metricsAddr := flag.String("metrics", "", "客户端指标地址（空则不启动）")
	flag.Parse()

	if *metricsAddr != "" {
		metrics.StartMetricsServer(*metricsAddr)
	}

	lg, err := logger.New(logger.Config{Level: "info", Outputs: []string{"stdout"}, Format: "console"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Close()

	sessCfg := ems.Config{ClientName: *client}
	if *cfgPath != "" {
		appCfg, err := config.LoadWithEnvOverrides(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		sessCfg = ems.Config{
			ClientName:        appCfg.Client.Name,
			ChannelCapacity:   appCfg.Client.ChannelCapacity,
			HandshakeDeadline: appCfg.Client.HandshakeDeadline(),
		}
		if *rate == 0 && appCfg.Client.CommandRate > 0 {
			*rate = appCfg.Client.CommandRate
			*burst = appCfg.Client.CommandBurst
		}
	}

	id := *oid
	if id == "" {
		id = fmt.Sprintf("%s-%d", sessCfg.ClientName, time.Now().UnixNano())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sp := &gateway.RemoteSpawner{Addr: *addr, Log: lg}
	if *rate > 0 {
		sp.Limiter = gateway.NewTokenBucketLimiter(*rate, *burst)
	}
	sess, err := ems.Open(ctx, sessCfg, sp, *brokerName,
		order.Symbol{Key: *symbol, Brokers: []string{*brokerName}}, lg)
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer sess.Close()

	cmd, err := sess.Book.Send(id, order.Symbol{Key: *symbol, Brokers: []string{*brokerName}},
		*price, *size, order.Action(strings.ToLower(*action)), order.ExecMode(strings.ToLower(*mode)))
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	fmt.Printf("sent %s %s %s @ %.4f x %.4f (%s)\n",
		cmd.Action, cmd.OID, cmd.Symbol, cmd.Price, cmd.Size, cmd.ExecMode)

	if *cancelAfter > 0 {
		go func() {
			time.Sleep(*cancelAfter)
			if _, err := sess.Book.Cancel(id); err != nil {
				lg.LogError(err, map[string]interface{}{"oid": id})
			}
		}()
	}

	deadline := time.After(*wait)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				fmt.Println("event stream closed")
				return
			}
			fmt.Printf("event %-18s oid=%s symbol=%s price=%.4f\n", ev.Kind, ev.OID, ev.Symbol, ev.Price)
			if ev.OID == id && ev.Kind.Terminal() {
				return
			}
		case <-deadline:
			fmt.Println("no terminal event before deadline")
			return
		}
	}
}
