package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"PantryPilot/internal/schema"
)

// Mode 指定一次模型调用期望的返回形态。
type Mode string

const (
	// ModeStructured 要求模型返回与给定契约匹配的函数调用。
	ModeStructured Mode = "structured"
	// ModeFreeText 不携带任何函数契约，模型返回自由文本。
	ModeFreeText Mode = "free_text"
)

// Request 描述一次模型调用的全部输入。
type Request struct {
	System    string
	User      string
	Functions []schema.Definition
	Mode      Mode
	Model     string
}

// StructuredCall 是模型返回的函数调用。Arguments 保持原始 JSON，
// 由调用方按块契约解码。
type StructuredCall struct {
	Name      string
	Arguments json.RawMessage
}

// Outcome 是模型调用结果的二选一联合：要么拿到结构化调用，
// 要么只有自由文本。两者不会同时有效。
type Outcome struct {
	Call *StructuredCall
	Text string
}

// Structured 判断结果是否落在结构化分支。
func (o *Outcome) Structured() bool {
	return o != nil && o.Call != nil
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Outcome, error)
}

// DecodeLoose 尝试从自由文本中恢复一个函数调用对象。
// 只在 Outcome 落在文本分支时调用；恢复失败返回 false，绝不猜测。
//
// 接受的形态：{"name": "...", "arguments": {...}}，其中 arguments
// 也可能被模型二次编码为字符串。常见的 ```json 围栏会先被剥掉。
func DecodeLoose(text string) (*StructuredCall, bool) {
	trimmed := strings.TrimSpace(text)
	trimmed = stripFence(trimmed)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var candidate struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(trimmed), &candidate); err != nil {
		return nil, false
	}
	if candidate.Name == "" || len(candidate.Arguments) == 0 {
		return nil, false
	}

	args := bytes.TrimSpace(candidate.Arguments)
	if len(args) > 0 && args[0] == '"' {
		// arguments 被编码成了字符串，再解一层。
		var inner string
		if err := json.Unmarshal(args, &inner); err != nil {
			return nil, false
		}
		args = []byte(inner)
	}
	return &StructuredCall{Name: candidate.Name, Arguments: json.RawMessage(args)}, true
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
