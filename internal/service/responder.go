package service

import (
	"context"
	"iter"
	"strconv"
	"time"
	"unicode"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/sse"
)

const (
	// FallbackNotice 是工作流不可用时发送的第一条内容。
	FallbackNotice = "⚠️ Kenny router unavailable, using fallback mode.\n\n"

	DefaultWordDelay         = 20 * time.Millisecond
	DefaultFallbackWordDelay = 10 * time.Millisecond
)

// FallbackMessage 构造降级模式下的回复文本。
func FallbackMessage(userMessage string) string {
	return "I received your message: '" + userMessage + "', but Kenny's advanced features are currently unavailable. Please check that all services are running."
}

// IntentDiagnostic 构造调试模式下的意图提示，例如 "🎯 Intent: schedule (92.0%)\n\n"。
func IntentDiagnostic(intent string, confidence float64) string {
	return "🎯 Intent: " + intent + " (" + strconv.FormatFloat(confidence*100, 'f', 1, 64) + "%)\n\n"
}

// ResponderConfig 配置流式输出的节奏。
type ResponderConfig struct {
	Debug             bool
	WordDelay         time.Duration
	FallbackWordDelay time.Duration
}

// Responder 将工作流结果转换为协议事件序列。
type Responder struct {
	cfg ResponderConfig
}

// NewResponder 创建一个新的 Responder。负的延迟视为 0。
func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.WordDelay < 0 {
		cfg.WordDelay = 0
	}
	if cfg.FallbackWordDelay < 0 {
		cfg.FallbackWordDelay = 0
	}
	return &Responder{cfg: cfg}
}

// Stream 返回一个惰性的事件序列，以 finish 和 [DONE] 结束。
// 消费者停止拉取时序列立即结束；ctx 取消时跳过剩余文本。
func (r *Responder) Stream(ctx context.Context, outcome RelayOutcome, userMessage string) iter.Seq[sse.Chunk] {
	return func(yield func(sse.Chunk) bool) {
		var (
			lead  string
			body  string
			delay time.Duration
		)
		if outcome.OK {
			if r.cfg.Debug && outcome.Intent != model.UnknownIntent {
				lead = IntentDiagnostic(outcome.Intent, outcome.Confidence)
			}
			body = outcome.ResponseText
			delay = r.cfg.WordDelay
		} else {
			lead = FallbackNotice
			body = FallbackMessage(userMessage)
			delay = r.cfg.FallbackWordDelay
		}

		if lead != "" && !yield(sse.Content(lead)) {
			return
		}

		words := splitWords(body)
		for i, w := range words {
			if ctx.Err() != nil {
				break
			}
			if !yield(sse.Content(w)) {
				return
			}
			if i < len(words)-1 && !pause(ctx, delay) {
				break
			}
		}

		if !yield(sse.Finish()) {
			return
		}
		yield(sse.Done())
	}
}

// splitWords 按空白切分文本，空白保留在前一个词的末尾，拼接后与原文完全一致。
func splitWords(text string) []string {
	var (
		out     []string
		start   int
		inSpace bool
		hasWord bool
	)
	for i, c := range text {
		if unicode.IsSpace(c) {
			inSpace = true
			continue
		}
		if inSpace && hasWord {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = false
		hasWord = true
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
