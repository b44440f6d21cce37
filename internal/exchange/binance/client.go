// Package binance 实现 Binance 行情客户端。
// WebSocket 订阅 depth5@100ms 维护各交易对的 5 档盘口缓存，
// REST 接口按需拉取小时 K 线。心跳机制: 协议层 ping/pong。
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/model"
	"grid-strategy-engine/internal/util/backoff"
	"grid-strategy-engine/internal/util/fastparse"
	"grid-strategy-engine/internal/util/timeutil"
)

// Client Binance 行情客户端
// 实现 market.MarketDataSource：读方法从盘口缓存取数，
// 后台 Run 循环负责连接维护与缓存更新。
type Client struct {
	// cfg 行情连接配置
	cfg *config.MarketConfig
	// symbols 订阅的交易对列表（大写）
	symbols []string
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser
	// httpClient REST 客户端
	httpClient *http.Client

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// books 盘口缓存（key 为交易对）
	books map[string]*BookSnapshot
	// booksMu 缓存锁：周期协程并发读取，读写锁降低争用
	booksMu sync.RWMutex

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex

	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// updateCount 更新计数（用于计算 QPS）
	updateCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 Binance 行情客户端
// 参数 symbols: 订阅的交易对列表
func NewClient(cfg *config.MarketConfig, symbols []string, logger *zap.Logger) *Client {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		symbols:    upper,
		logger:     logger.Named("binance"),
		parser:     NewParser(upper),
		httpClient: &http.Client{Timeout: timeout},
		books:      make(map[string]*BookSnapshot, len(upper)),
		backoff:    backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "grid-strategy-engine/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		return fmt.Errorf("连接 Binance WebSocket 失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	if readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("Binance WebSocket 连接成功", zap.String("url", c.cfg.WSURL))
	return nil
}

// Subscribe 订阅交易对
// 订阅 depth5@100ms 行情流
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	params := make([]string, 0, len(c.symbols))
	for _, s := range c.symbols {
		// Binance 订阅参数要求小写 symbol
		params = append(params, fmt.Sprintf("%s@depth5@100ms", strings.ToLower(s)))
	}

	req := SubscribeRequest{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     1,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("Binance 订阅请求已发送", zap.Int("symbols", len(params)))
	return nil
}

// Run 启动客户端主循环
// 包含读取循环、心跳与指标统计；阻塞直到 ctx 取消。
func (c *Client) Run(ctx context.Context) {
	go c.pingLoop(ctx)
	go c.metricsLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("读取 Binance 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		snap, err := c.parser.Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}
		if snap == nil {
			continue
		}

		atomic.AddInt64(&c.updateCount, 1)
		c.booksMu.Lock()
		c.books[snap.Symbol] = snap
		c.booksMu.Unlock()
	}
}

// LatestPrice 获取最新成交价
// 以盘口中间价近似，缓存过期（超过读取超时）时返回错误。
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	snap, err := c.freshSnapshot(symbol)
	if err != nil {
		return 0, err
	}
	return (snap.Bids[0] + snap.Asks[0]) / 2, nil
}

// OrderBookLevel 获取盘口指定档位的价格
// 参数 side: buy 取 bidN，sell 取 askN
// 参数 level: 档位序号，1-5
func (c *Client) OrderBookLevel(ctx context.Context, symbol string, side model.Side, level int) (float64, error) {
	if level < 1 || level > 5 {
		return 0, fmt.Errorf("档位超出范围: %d", level)
	}

	snap, err := c.freshSnapshot(symbol)
	if err != nil {
		return 0, err
	}

	levels := snap.Asks
	if side == model.SideBuy {
		levels = snap.Bids
	}
	if level > len(levels) {
		return 0, fmt.Errorf("盘口 %s 第 %d 档缺失", symbol, level)
	}
	return levels[level-1], nil
}

// RecentHourlyCloses 获取最近 count 根小时线的收盘价
// 通过 REST /api/v3/klines 拉取，按时间升序返回。
func (c *Client) RecentHourlyCloses(ctx context.Context, symbol string, count int) ([]float64, error) {
	if count <= 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1h&limit=%s",
		strings.TrimRight(c.cfg.RESTURL, "/"),
		url.QueryEscape(strings.ToUpper(symbol)),
		strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造 K 线请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 K 线失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("K 线接口返回 %d: %s", resp.StatusCode, body)
	}

	// K 线元素为混合类型数组，收盘价在下标 4（字符串）
	var rows [][]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析 K 线响应失败: %w", err)
	}

	closes := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		s, ok := row[4].(string)
		if !ok {
			continue
		}
		px, err := fastparse.ParseFloat(s)
		if err != nil || px <= 0 {
			continue
		}
		closes = append(closes, px)
	}
	return closes, nil
}

// freshSnapshot 读取盘口缓存并校验新鲜度
func (c *Client) freshSnapshot(symbol string) (*BookSnapshot, error) {
	c.booksMu.RLock()
	snap := c.books[strings.ToUpper(symbol)]
	c.booksMu.RUnlock()

	if snap == nil || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return nil, fmt.Errorf("盘口 %s 尚未就绪", symbol)
	}

	maxAge := time.Duration(c.readTimeoutMs()) * time.Millisecond
	if age := timeutil.NowNano() - snap.UpdatedAtNs; age > int64(maxAge) {
		return nil, fmt.Errorf("盘口 %s 数据过期: %dms", symbol, age/1_000_000)
	}
	return snap, nil
}

func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = c.readTimeoutMs() / 2
		if intervalMs <= 0 {
			intervalMs = 15000
		}
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}

			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.connMu.Unlock()
				c.logger.Warn("发送 Binance ping 失败", zap.Error(err))
				continue
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Next()
	c.logger.Info("Binance 准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Binance 重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("Binance 重新订阅失败", zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	c.logger.Info("Binance 客户端已关闭")
	return nil
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

func (c *Client) readTimeoutMs() int {
	if c.cfg.ReadTimeoutMs > 0 {
		return c.cfg.ReadTimeoutMs
	}
	// 未配置时使用 30s
	return 30000
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 0 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 Binance 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
