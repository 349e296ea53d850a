// Package sse 实现面向聊天客户端的流式事件协议：
// 每个事件形如 "data: <json>\n\n"，流以 "data: [DONE]\n\n" 结束。
package sse

import (
	"encoding/json"
	"fmt"
)

// DoneMarker 是流结束哨兵的负载。
const DoneMarker = "[DONE]"

// Kind 标识一个事件的种类。
type Kind int

const (
	KindContent Kind = iota
	KindFinish
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindFinish:
		return "finish"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Chunk 是协议中的一个事件。
type Chunk struct {
	Kind    Kind
	Content string // KindContent 的文本片段
	Err     string // KindError 的错误描述
}

type delta struct {
	Content string `json:"content"`
}

type choice struct {
	Delta        *delta `json:"delta,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type choicesPayload struct {
	Choices []choice `json:"choices"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Content 构造一个增量内容事件。
func Content(text string) Chunk { return Chunk{Kind: KindContent, Content: text} }

// Finish 构造终止事件 finish_reason=stop。
func Finish() Chunk { return Chunk{Kind: KindFinish} }

// Error 构造一个错误事件。
func Error(msg string) Chunk { return Chunk{Kind: KindError, Err: msg} }

// Done 构造结束哨兵。
func Done() Chunk { return Chunk{Kind: KindDone} }

// Payload 返回事件 data 字段中的内容（JSON 或哨兵）。
func (c Chunk) Payload() ([]byte, error) {
	switch c.Kind {
	case KindContent:
		return json.Marshal(choicesPayload{Choices: []choice{{Delta: &delta{Content: c.Content}}}})
	case KindFinish:
		return json.Marshal(choicesPayload{Choices: []choice{{FinishReason: "stop"}}})
	case KindError:
		return json.Marshal(errorPayload{Error: c.Err})
	case KindDone:
		return []byte(DoneMarker), nil
	default:
		return nil, fmt.Errorf("unknown chunk kind %d", int(c.Kind))
	}
}

// Encode 返回完整的一行事件 "data: <payload>\n\n"。
func (c Chunk) Encode() ([]byte, error) {
	payload, err := c.Payload()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return out, nil
}
