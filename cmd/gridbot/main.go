// Package main 是网格策略引擎的入口点。
// 每个交易对一条独立的周期协程：行情 → 风控 → 触发 → 下单金额 → 准入 →
// 执行 → 记账；交易对之间通过共享的资金分配器竞争额度。
//
// 重要：当前仅支持 paper 执行模式，严禁真实下单。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/alloc"
	"grid-strategy-engine/internal/core/cycle"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
	"grid-strategy-engine/internal/core/risk"
	"grid-strategy-engine/internal/core/sizer"
	"grid-strategy-engine/internal/core/trigger"
	"grid-strategy-engine/internal/exchange/binance"
	"grid-strategy-engine/internal/exchange/paper"
	"grid-strategy-engine/internal/metadata"
	"grid-strategy-engine/internal/metrics"
	"grid-strategy-engine/internal/notify"
	"grid-strategy-engine/internal/output/jsonl"
	"grid-strategy-engine/internal/stats/perf"
	"grid-strategy-engine/internal/store"
	"grid-strategy-engine/internal/util/timeutil"
)

// allocationStatus 资金分配状态快照（定期输出到 jsonl）
type allocationStatus struct {
	// TsUnixNs 采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Allocated 分配额度
	Allocated float64 `json:"allocated"`
	// Used 当前记账占用
	Used float64 `json:"used"`
	// UsageRatio 额度使用率
	UsageRatio float64 `json:"usage_ratio"`
	// Score 绩效分（动态策略）
	Score float64 `json:"score,omitempty"`
	// Samples 滚动窗口内的卖出样本数
	Samples int64 `json:"samples"`
	// WinRate 滚动窗口胜率（无样本时为 0）
	WinRate float64 `json:"win_rate"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 缺失不是错误，仅用于本地注入 Webhook 地址等敏感项
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if url := os.Getenv("GRID_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	symbols := cfg.SymbolList()

	// 启动时获取交易对精度规则（禁止硬编码精度）
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	fetcher := metadata.NewHTTPFetcher(cfg.Market.RESTURL, cfg.Market.TimeoutMs)
	rules, err := fetcher.FetchPrecisionRules(startCtx, symbols)
	if err != nil {
		logger.Error("获取精度规则失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("精度规则加载完成", zap.Int("symbols", len(rules)))

	// 行情客户端
	marketClient := binance.NewClient(&cfg.Market, symbols, logger)
	if err := marketClient.Connect(startCtx); err != nil {
		logger.Error("行情连接失败", zap.Error(err))
		os.Exit(1)
	}
	if err := marketClient.Subscribe(); err != nil {
		logger.Error("行情订阅失败", zap.Error(err))
		os.Exit(1)
	}
	go marketClient.Run(ctx)

	// 订单执行（paper 模式，同时充当账户快照）
	executor := paper.NewExecutor(cfg, rules, marketClient, logger)

	// 成交记录仓库
	var repo store.Repository
	if cfg.Store.Path != "" {
		sqlRepo, err := store.NewSQLiteRepository(cfg.Store.Path)
		if err != nil {
			logger.Error("打开成交记录仓库失败", zap.Error(err))
			os.Exit(1)
		}
		if err := sqlRepo.Init(ctx); err != nil {
			logger.Error("初始化成交记录仓库失败", zap.Error(err))
			os.Exit(1)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
	}

	// 告警通道
	var notifier market.NotificationSink = notify.NewLogSink(logger)
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewWebhookSink(cfg.Notify.WebhookURL,
			time.Duration(cfg.Notify.TimeoutMs)*time.Millisecond, logger)
		notifier = notify.NewMultiSink(notify.NewLogSink(logger), webhook)
	}

	// 滚动绩效：重启后从成交记录回放，动态再平衡不中断
	tracker := perf.NewTracker(100)
	if repo != nil {
		replayPerformance(ctx, repo, tracker, symbols, logger)
	}

	// 资金分配器（全进程唯一实例）
	allocator := alloc.New(
		cfg.Allocator.TotalCapital,
		model.AllocationStrategy(cfg.Allocator.Strategy),
		cfg.Allocator.MaxGlobalUsageRatio,
		logger,
		alloc.WithWeights(cfg.Allocator.Weights),
		alloc.WithUsageSource(&cycle.SnapshotUsage{Source: marketClient, Snapshot: executor}),
		alloc.WithPerformanceSource(tracker),
		alloc.WithRebalanceInterval(time.Duration(cfg.Allocator.RebalanceIntervalMs)*time.Millisecond),
	)
	if err := allocator.RegisterSymbols(symbols); err != nil {
		logger.Error("注册交易对失败", zap.Error(err))
		os.Exit(1)
	}

	// 决策与状态输出
	var decisionsRecorder, statusRecorder *jsonl.Recorder
	if cfg.Output.DecisionsEnabled {
		decisionsRecorder, err = jsonl.NewRecorder(
			fmt.Sprintf("%s/decisions.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 decisions recorder 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Output.StatusIntervalMs > 0 {
		statusRecorder, err = jsonl.NewRecorder(
			fmt.Sprintf("%s/allocation_status.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 status recorder 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// Prometheus 指标端点
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			logger.Info("指标端点启动", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("指标端点退出", zap.Error(err))
			}
		}()
	}

	// 每交易对一条周期协程
	interval := time.Duration(cfg.Cycle.IntervalMs) * time.Millisecond
	var wg sync.WaitGroup
	for i := range cfg.Symbols {
		sym := cfg.Symbols[i].Symbol
		strategy := &cfg.Symbols[i].Strategy

		trig := trigger.NewEngine(sym, strategy, marketClient, logger)
		runner := cycle.NewRunner(sym, strategy, interval, cycle.Deps{
			Trigger:  trig,
			Sizer:    sizer.New(sym, strategy, marketClient, executor, logger),
			Risk: risk.NewController(sym, strategy, executor, executor, notifier,
				func(ctx context.Context) float64 { return trig.Basis() }, logger),
			Alloc:    allocator,
			Executor: executor,
			Source:   marketClient,
			Snapshot: executor,
			Perf:     tracker,
			Repo:     repo,
			Recorder: decisionsRecorder,
		}, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	logger.Info("引擎启动完成",
		zap.Int("symbols", len(cfg.Symbols)),
		zap.Duration("interval", interval),
		zap.String("strategy", cfg.Allocator.Strategy))

	// 状态快照与动态再平衡循环
	go statusLoop(ctx, allocator, tracker, statusRecorder, cfg.Output.StatusIntervalMs, logger)

	wg.Wait()
	cancel()

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = marketClient.Close()
		if decisionsRecorder != nil {
			_ = decisionsRecorder.Close()
		}
		if statusRecorder != nil {
			_ = statusRecorder.Close()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// statusLoop 定期输出资金分配状态并驱动动态再平衡
func statusLoop(ctx context.Context, allocator *alloc.Allocator, tracker *perf.Tracker, recorder *jsonl.Recorder, intervalMs int, logger *zap.Logger) {
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if allocator.RebalanceIfDue(ctx) {
				logger.Info("动态再平衡完成")
			}

			nowNs := timeutil.NowNano()
			for _, rec := range allocator.StatusReport() {
				metrics.SetAllocation(rec.Symbol, rec.Allocated, rec.Used)
				if recorder != nil {
					_ = recorder.Record(allocationStatus{
						TsUnixNs:   nowNs,
						Symbol:     rec.Symbol,
						Allocated:  rec.Allocated,
						Used:       rec.Used,
						UsageRatio: rec.UsageRatio(),
						Score:      rec.Score,
						Samples:    tracker.SampleCount(rec.Symbol),
						WinRate:    tracker.WinRate(rec.Symbol),
					})
				}
			}
			if recorder != nil {
				_ = recorder.Flush()
			}
		}
	}
}

// replayPerformance 从最近成交回放已实现盈亏，恢复滚动绩效窗口
func replayPerformance(ctx context.Context, repo store.Repository, tracker *perf.Tracker, symbols []string, logger *zap.Logger) {
	for _, sym := range symbols {
		trades, err := repo.RecentTrades(ctx, sym, 100)
		if err != nil {
			logger.Warn("回放成交记录失败", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		// RecentTrades 按时间倒序返回，回放需按时间正序
		for i := len(trades) - 1; i >= 0; i-- {
			if trades[i].Side == string(model.SideSell) {
				tracker.Add(sym, trades[i].RealizedProfit)
			}
		}
		if len(trades) > 0 {
			logger.Info("绩效窗口已回放",
				zap.String("symbol", sym), zap.Int("trades", len(trades)))
		}
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
