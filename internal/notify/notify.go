// Package notify 实现事件通知分发。
// 通知属于旁路输出：任何发送失败只记录日志，绝不向调用方传播，
// 避免告警通道故障反过来阻塞交易决策。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/core/market"
)

// LogSink 将通知写入结构化日志
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志通知器
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify 按严重级别选择日志级别输出
func (s *LogSink) Notify(severity market.Severity, title, body string) {
	fields := []zap.Field{
		zap.String("title", title),
		zap.String("body", body),
	}
	switch severity {
	case market.SeverityFatal:
		s.logger.Error("通知", fields...)
	case market.SeverityWarn:
		s.logger.Warn("通知", fields...)
	default:
		s.logger.Info("通知", fields...)
	}
}

// WebhookSink 将通知以 JSON POST 到外部 Webhook
type WebhookSink struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink 创建 Webhook 通知器
// 参数 timeout: 单次 HTTP 请求超时
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// webhookPayload Webhook 请求体
type webhookPayload struct {
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	SentAt   string `json:"sent_at"`
}

// Notify 发送 Webhook 通知，失败只记录日志
func (s *WebhookSink) Notify(severity market.Severity, title, body string) {
	payload := webhookPayload{
		Severity: string(severity),
		Title:    title,
		Body:     body,
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("通知序列化失败", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(buf))
	if err != nil {
		s.logger.Warn("构造通知请求失败", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("发送通知失败", zap.String("title", title), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("通知被对端拒绝",
			zap.String("title", title),
			zap.Int("status", resp.StatusCode))
	}
}

// MultiSink 将通知广播到多个下游
type MultiSink struct {
	sinks []market.NotificationSink
}

// NewMultiSink 创建广播通知器
func NewMultiSink(sinks ...market.NotificationSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Notify 依次转发到所有下游
func (s *MultiSink) Notify(severity market.Severity, title, body string) {
	for _, sink := range s.sinks {
		sink.Notify(severity, title, body)
	}
}
